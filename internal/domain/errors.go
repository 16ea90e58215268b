package domain

import "errors"

// Ошибки доменной модели.
var (
	// ErrInvalidTransition — недопустимый переход между состояниями TaskRun.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidRunID — строка не является ключом попытки.
	ErrInvalidRunID = errors.New("invalid task run id")
)
