package util

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
)

// ErrorKind classifies an EmbedError for HTTP status mapping, so the
// server layer can look up a status code instead of matching strings.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalidInput
	KindModelLoad
	KindModelNotFound
	KindInference
	KindTransport
)

// HTTPStatus maps an ErrorKind to the status code the server should return.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindInference:
		return http.StatusBadRequest
	case KindModelNotFound:
		return http.StatusNotFound
	case KindModelLoad, KindInternal, KindTransport:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// EmbedError is a custom error type carrying context and a stack trace.
type EmbedError struct {
	Kind        ErrorKind
	OriginalErr error
	Message     string
	Stack       string
	Attrs       []slog.Attr
}

func (e *EmbedError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
	}
	return e.Message
}

func (e *EmbedError) Unwrap() error {
	return e.OriginalErr
}

const maxStackLength = 8192

// NewError creates a new EmbedError without an original error.
func NewError(kind ErrorKind, message string, attrs ...slog.Attr) *EmbedError {
	return newEmbedError(kind, nil, message, attrs...)
}

// WrapError creates a new EmbedError, wrapping an existing error.
func WrapError(kind ErrorKind, err error, message string, attrs ...slog.Attr) *EmbedError {
	return newEmbedError(kind, err, message, attrs...)
}

func newEmbedError(kind ErrorKind, originalErr error, message string, attrs ...slog.Attr) *EmbedError {
	buf := make([]byte, maxStackLength)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	if ee, ok := originalErr.(*EmbedError); ok {
		combinedAttrs := append(ee.Attrs, attrs...)
		newMessage := message
		if ee.Message != "" {
			newMessage = fmt.Sprintf("%s: %s", message, ee.Message)
		}
		return &EmbedError{
			Kind:        kind,
			OriginalErr: ee.OriginalErr,
			Message:     newMessage,
			Stack:       ee.Stack,
			Attrs:       combinedAttrs,
		}
	}

	return &EmbedError{
		Kind:        kind,
		OriginalErr: originalErr,
		Message:     message,
		Stack:       stack,
		Attrs:       attrs,
	}
}

// LogError logs an EmbedError with its structured context and stack trace.
// Non-EmbedError values are logged as a plain error message.
func LogError(logger *slog.Logger, err error) {
	if err == nil {
		return
	}

	var ee *EmbedError
	if asEe, ok := err.(*EmbedError); ok {
		ee = asEe
	} else if asWrapper, ok := err.(interface{ Unwrap() error }); ok {
		if unwrapEe, okUnwrap := asWrapper.Unwrap().(*EmbedError); okUnwrap {
			ee = unwrapEe
		}
	}

	if ee != nil {
		logAttrs := []any{
			slog.String("error_message", ee.Message),
			slog.Int("error_kind", int(ee.Kind)),
		}
		if ee.OriginalErr != nil {
			logAttrs = append(logAttrs, slog.String("original_error", ee.OriginalErr.Error()))
		}
		logAttrs = append(logAttrs, slog.String("stack_trace", ee.Stack))
		for _, attr := range ee.Attrs {
			logAttrs = append(logAttrs, attr)
		}
		logger.Error("An error occurred", logAttrs...)
		return
	}

	logger.Error("An error occurred", slog.String("error", err.Error()))
}
