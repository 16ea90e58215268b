package worker

import "errors"

// Ошибки воркера.
var (
	// ErrUnknownTask — определение task не зарегистрировано.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnknownFlow — определение flow не зарегистрировано.
	ErrUnknownFlow = errors.New("unknown flow")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrHTTPStatus — сервер ответил кодом >= 400.
	ErrHTTPStatus = errors.New("http error status")
)
