package worker

import (
	"context"
	"maps"
	"time"

	"github.com/shaiso/Taskrunner/internal/domain"
)

// Параметры backoff встроенных tasks.
const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
)

// Builtins возвращает встроенные tasks: http, delay, transform.
func Builtins() []*domain.Task {
	return []*domain.Task{
		{
			ID:         "http",
			Name:       "HTTP request",
			Body:       HTTPBody,
			MaxRetries: 3,
			RetryDelay: ExponentialBackoff(defaultInitialDelay, defaultMaxDelay),
		},
		{
			ID:   "delay",
			Name: "Delay",
			Body: DelayBody,
		},
		{
			ID:   "transform",
			Name: "Transform",
			Body: TransformBody,
		},
	}
}

// ExponentialBackoff возвращает задержку initial * 2^(attempt-1), не больше maxDelay.
func ExponentialBackoff(initial, maxDelay time.Duration) domain.RetryDelay {
	if initial <= 0 {
		initial = defaultInitialDelay
	}
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	return domain.DelayFunc(func(attempt, _ int) time.Duration {
		delay := initial
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay >= maxDelay {
				return maxDelay
			}
		}
		return min(delay, maxDelay)
	})
}

// DelayBody — тело встроенного task "delay".
//
// Ожидает duration_sec секунд (default: 1). Поддерживает отмену через context.
func DelayBody(ctx context.Context, params domain.Params) (domain.Result, error) {
	duration, ok := getSeconds(params, "duration_sec")
	if !ok {
		duration = time.Second
	}

	select {
	case <-time.After(duration):
		return domain.Done(map[string]any{"delayed_sec": duration.Seconds()}), nil
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	}
}

// TransformBody — тело встроенного task "transform".
//
// Возвращает параметры вызова как значение результата, без ключей движка.
func TransformBody(_ context.Context, params domain.Params) (domain.Result, error) {
	outputs := maps.Clone(params)
	if outputs == nil {
		outputs = make(domain.Params)
	}
	delete(outputs, domain.ParamTaskID)
	delete(outputs, domain.ParamTaskName)
	delete(outputs, domain.ParamRunNumber)
	return domain.Done(outputs), nil
}
