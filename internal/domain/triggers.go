package domain

import (
	"fmt"
	"sort"
)

// Стандартные triggers.
//
// Trigger без предшественников всегда пропускает task: пустое множество
// удовлетворяет любому условию "все/ни одного".

// Always пропускает task независимо от предшественников.
func Always(map[string]State) Outcome {
	return Success()
}

// AllSuccessful пропускает task, только если все предшественники SUCCESS.
// Иначе — Fail. Trigger по умолчанию.
func AllSuccessful(preceding map[string]State) Outcome {
	if bad := matching(preceding, func(s State) bool { return s != StateSuccess }); len(bad) > 0 {
		return Fail(fmt.Sprintf("trigger all_successful: upstream not successful: %v", bad))
	}
	return Success()
}

// AllFailed пропускает task, только если все предшественники FAILED.
// Иначе — Skip.
func AllFailed(preceding map[string]State) Outcome {
	if bad := matching(preceding, func(s State) bool { return s != StateFailed }); len(bad) > 0 {
		return Skip(fmt.Sprintf("trigger all_failed: upstream not failed: %v", bad))
	}
	return Success()
}

// AllFinished пропускает task, если все предшественники в терминальном состоянии.
// Иначе — Fail.
func AllFinished(preceding map[string]State) Outcome {
	if bad := matching(preceding, func(s State) bool { return !s.IsFinished() }); len(bad) > 0 {
		return Fail(fmt.Sprintf("trigger all_finished: upstream not finished: %v", bad))
	}
	return Success()
}

// AnySuccessful пропускает task, если хотя бы один предшественник SUCCESS.
// Иначе — Fail.
func AnySuccessful(preceding map[string]State) Outcome {
	if len(preceding) == 0 || len(matching(preceding, func(s State) bool { return s == StateSuccess })) > 0 {
		return Success()
	}
	return Fail("trigger any_successful: no upstream succeeded")
}

// AnyFailed пропускает task, если хотя бы один предшественник FAILED.
// Иначе — Skip.
func AnyFailed(preceding map[string]State) Outcome {
	if len(preceding) == 0 || len(matching(preceding, func(s State) bool { return s == StateFailed })) > 0 {
		return Success()
	}
	return Skip("trigger any_failed: no upstream failed")
}

// matching возвращает отсортированные ID предшественников, для которых pred истинен.
func matching(preceding map[string]State, pred func(State) bool) []string {
	var ids []string
	for id, s := range preceding {
		if pred(s) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
