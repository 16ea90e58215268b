package worker

import (
	"testing"

	"github.com/shaiso/Taskrunner/internal/mq"
)

// --- Worker Tests ---

func TestUnitQueues_ConsumesBothUnitQueues(t *testing.T) {
	queues := UnitQueues()

	want := map[mq.Queue]bool{mq.QueueUnitsSubmitted: false, mq.QueueUnitsExpanded: false}
	for _, q := range queues {
		if _, ok := want[q]; !ok {
			t.Errorf("unexpected queue %s", q)
		}
		want[q] = true
	}
	for q, seen := range want {
		if !seen {
			t.Errorf("worker does not consume %s", q)
		}
	}
}
