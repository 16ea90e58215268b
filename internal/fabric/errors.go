package fabric

import "errors"

// Ошибки fabric.
var (
	// ErrUnknownHandle — Gather получил handle, который этот fabric не выдавал
	// (или который уже был собран).
	ErrUnknownHandle = errors.New("unknown unit handle")

	// ErrNoExecutor — Local fabric не привязан к исполнителю.
	ErrNoExecutor = errors.New("fabric has no executor bound")

	// ErrInvalidUnit — unit не содержит описания task или flow.
	ErrInvalidUnit = errors.New("invalid unit")

	// ErrUnitFailed — воркер сообщил об инфраструктурной ошибке выполнения unit.
	ErrUnitFailed = errors.New("unit failed")
)
