package models

import (
	"errors"
	"net/http"
)

type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindConflict            ErrorKind = "conflict"
	KindValidation          ErrorKind = "validation_error"
	KindUnsupportedLanguage ErrorKind = "unsupported_language"
	KindExternalService     ErrorKind = "external_service_error"
	KindPersistence         ErrorKind = "persistence_error"
	KindRateLimited         ErrorKind = "rate_limited"
	KindNotJoined           ErrorKind = "not_joined"
	KindInternal            ErrorKind = "internal_error"
)

// AppError is the typed error returned to a single caller. Details carries
// raw diagnostics from an external service when available.
type AppError struct {
	Kind    ErrorKind
	Message string
	Details any
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches any AppError of the same kind, so the sentinels below work
// with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound            = &AppError{Kind: KindNotFound, Message: "not found"}
	ErrConflict            = &AppError{Kind: KindConflict, Message: "conflict"}
	ErrValidation          = &AppError{Kind: KindValidation, Message: "validation failed"}
	ErrUnsupportedLanguage = &AppError{Kind: KindUnsupportedLanguage, Message: "unsupported language"}
	ErrExternalService     = &AppError{Kind: KindExternalService, Message: "external service error"}
	ErrPersistence         = &AppError{Kind: KindPersistence, Message: "persistence error"}
	ErrRateLimited         = &AppError{Kind: KindRateLimited, Message: "rate limited"}
	ErrNotJoined           = &AppError{Kind: KindNotJoined, Message: "not joined"}
)

func NewError(kind ErrorKind, msg string) *AppError {
	return &AppError{Kind: kind, Message: msg}
}

func WrapError(kind ErrorKind, msg string, err error) *AppError {
	return &AppError{Kind: kind, Message: msg, Err: err}
}

// KindOf reports the kind of err, or KindInternal for untyped errors.
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindNotJoined:
		return http.StatusConflict
	case KindValidation, KindUnsupportedLanguage:
		return http.StatusBadRequest
	case KindExternalService:
		return http.StatusBadGateway
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// ToErrorResponse converts err into the uniform error payload.
func ToErrorResponse(err error) ErrorResponse {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return ErrorResponse{Code: string(appErr.Kind), Message: appErr.Message, Details: appErr.Details}
	}
	return ErrorResponse{Code: string(KindInternal), Message: "internal error"}
}
