package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Taskrunner/internal/domain"
	"github.com/shaiso/Taskrunner/internal/fabric"
	"github.com/shaiso/Taskrunner/internal/store"
)

// RunUnit выполняет попытку, описанную TaskUnit.
//
// Долговременная запись загружается из хранилища; если её нет, создаётся новая
// PENDING попытка с параметрами и provenance из unit. Ошибка возвращается только
// если запись не удалось загрузить; исход самой попытки — в возвращаемом State.
func (e *Engine) RunUnit(ctx context.Context, task *domain.Task, tu *fabric.TaskUnit) (domain.State, error) {
	if task.ID != tu.RunID.TaskID {
		return "", fmt.Errorf("unit %s does not match task %s", tu.RunID, task.ID)
	}

	run, err := e.store.Load(ctx, tu.RunID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		run = domain.NewTaskRun(tu.RunID.FlowRunID, task, tu.Params, tu.RunID.RunNumber)
		run.CreatedAt = e.now()
		run.GeneratedBy = tu.GeneratedBy
	case err != nil:
		return "", fmt.Errorf("load task run %s: %w", tu.RunID, err)
	}

	return e.Run(ctx, task, run, tu.Preceding, tu.Force), nil
}
