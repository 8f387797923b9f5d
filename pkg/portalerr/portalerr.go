package portalerr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrUnauthorized = errors.New("portal: unauthorized")
	ErrForbidden    = errors.New("portal: forbidden")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func NewValidation(field string, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

func IsValidation(err error) bool {
	_, ok := errors.AsType[*ValidationError](err)
	return ok
}

// APIError is a non-2xx reply from the portal backend.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("portal api error: status=%d", e.Status)
	}
	return fmt.Sprintf("portal api error: status=%d message=%s", e.Status, e.Message)
}

func IsStatus(err error, status int) bool {
	apiErr, ok := errors.AsType[*APIError](err)
	return ok && apiErr.Status == status
}

// Known reports whether err belongs to the portal error taxonomy, in which
// case UserMessage has a specific text for it.
func Known(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := errors.AsType[*ValidationError](err); ok {
		return true
	}
	if _, ok := errors.AsType[*APIError](err); ok {
		return true
	}
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// UserMessage turns err into a plain string that is safe to show to an operator.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if v, ok := errors.AsType[*ValidationError](err); ok {
		return v.Error()
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Your session has expired. Please log in again."
	case errors.Is(err, ErrForbidden):
		return "You do not have permission to perform this action."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "The server took too long to respond. Please try again."
	}
	if apiErr, ok := errors.AsType[*APIError](err); ok {
		msg := strings.TrimSpace(apiErr.Message)
		switch {
		case apiErr.Status == http.StatusNotFound:
			return "The requested record was not found."
		case apiErr.Status >= 500:
			return "The server could not complete the request. Please try again."
		case msg != "" && len(msg) <= 200 && !strings.ContainsAny(msg, "{}<>"):
			return msg
		default:
			return "The request was rejected by the server."
		}
	}
	return "Something went wrong. Please try again."
}
