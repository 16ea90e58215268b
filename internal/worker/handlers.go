package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Taskrunner/internal/fabric"
	"github.com/shaiso/Taskrunner/internal/flow"
	"github.com/shaiso/Taskrunner/internal/mq"
	"github.com/shaiso/Taskrunner/internal/telemetry"
)

// unitExecutor — то, что воркер вызывает для каждого полученного unit.
type unitExecutor interface {
	Execute(ctx context.Context, u fabric.Unit) error
}

// handleUnitSubmitted обрабатывает unit из очереди units.submitted или units.expanded.
func (w *Worker) handleUnitSubmitted(ctx context.Context, delivery *mq.Delivery) error {
	if delivery.Message.Type != mq.MessageTypeUnitSubmitted {
		return fmt.Errorf("%w: unexpected message type %s", mq.ErrReject, delivery.Message.Type)
	}

	// 1. Парсим unit
	unit, err := mq.ParsePayload[fabric.Unit](&delivery.Message)
	if err != nil {
		w.logger.Error("failed to parse unit.submitted payload", "error", err)
		return fmt.Errorf("%w: %v", mq.ErrReject, err)
	}
	if err := unit.Validate(); err != nil {
		w.logger.Error("invalid unit", "unit_id", unit.ID, "error", err)
		w.reply(ctx, delivery, unit, err)
		return fmt.Errorf("%w: %v", mq.ErrReject, err)
	}

	logger := telemetry.WithUnitID(w.logger, unit.ID.String())
	logger.Debug("received unit", "kind", unit.Kind, "unit", unit.Describe())

	if w.executor == nil {
		return fmt.Errorf("%w: %w", mq.ErrReject, fabric.ErrNoExecutor)
	}

	// 2. Выполняем
	execErr := w.executor.Execute(ctx, unit)

	// 3. Хранилище недоступно — вернём unit в очередь
	if execErr != nil && isTransient(execErr) && ctx.Err() == nil {
		logger.Warn("unit failed, requeueing", "unit", unit.Describe(), "error", execErr)
		return execErr
	}

	if execErr != nil {
		logger.Error("unit failed", "unit", unit.Describe(), "error", execErr)
	} else {
		logger.Info("unit completed", "kind", unit.Kind, "unit", unit.Describe())
	}

	// 4. Отвечаем отправителю, если он ждёт
	w.reply(ctx, delivery, unit, execErr)
	return nil
}

// reply публикует unit.resolved в очередь ответа отправителя.
func (w *Worker) reply(ctx context.Context, delivery *mq.Delivery, unit fabric.Unit, execErr error) {
	replyTo := delivery.ReplyTo()
	if replyTo == "" || w.publisher == nil {
		return
	}

	payload := mq.UnitResolvedPayload{UnitID: unit.ID}
	if execErr != nil {
		payload.Error = execErr.Error()
	}

	if err := w.publisher.PublishUnitResolved(ctx, replyTo, payload); err != nil {
		// Отправитель не дождётся ответа; попытка уже записана в хранилище
		w.logger.Warn("failed to publish unit.resolved",
			"unit_id", unit.ID,
			"reply_to", replyTo,
			"error", err,
		)
	}
}

// isTransient — ошибки, после которых повтор доставки имеет смысл.
func isTransient(err error) bool {
	var ve *flow.ValidationError
	switch {
	case errors.Is(err, ErrUnknownTask), errors.Is(err, ErrUnknownFlow):
		return false
	case errors.Is(err, fabric.ErrInvalidUnit), errors.As(err, &ve):
		return false
	case errors.Is(err, flow.ErrEmptyFlow), errors.Is(err, flow.ErrCyclicDependency):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	return true
}
