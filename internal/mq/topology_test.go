package mq

import "testing"

// --- Routing Tests ---

func TestUnitRoutingKey(t *testing.T) {
	if got := UnitRoutingKey(true); got != RoutingKeyExpanded {
		t.Errorf("awaited unit: expected %s, got %s", RoutingKeyExpanded, got)
	}
	if got := UnitRoutingKey(false); got != RoutingKeySubmitted {
		t.Errorf("fire-and-forget unit: expected %s, got %s", RoutingKeySubmitted, got)
	}
}

// Ожидаемые и неожидаемые units должны попадать в разные очереди,
// иначе родитель в Gather занимает слот, нужный его детям.
func TestBindings_AwaitedUnitsHaveOwnQueue(t *testing.T) {
	queueFor := func(key RoutingKey) Queue {
		t.Helper()
		var found []Queue
		for _, b := range bindings {
			if b.exchange == ExchangeUnits && b.routingKey == key {
				found = append(found, b.queue)
			}
		}
		if len(found) != 1 {
			t.Fatalf("routing key %s: expected exactly one queue, got %v", key, found)
		}
		return found[0]
	}

	awaited := queueFor(UnitRoutingKey(true))
	dispatched := queueFor(UnitRoutingKey(false))

	if awaited != QueueUnitsExpanded {
		t.Errorf("awaited units should go to %s, got %s", QueueUnitsExpanded, awaited)
	}
	if dispatched != QueueUnitsSubmitted {
		t.Errorf("dispatched units should go to %s, got %s", QueueUnitsSubmitted, dispatched)
	}
}
