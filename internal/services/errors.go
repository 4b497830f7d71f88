package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanko-field/webshop/internal/repositories"
)

// UserError is a rejected operation carrying a message that is safe to show to shoppers.
// Kind is the service sentinel used to classify the failure.
type UserError struct {
	Kind    error
	Message string
}

func (e *UserError) Error() string {
	if e.Kind == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Message)
}

func (e *UserError) Unwrap() error {
	return e.Kind
}

func userError(kind error, format string, args ...any) error {
	return &UserError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// UserMessage returns the shopper facing message of err, or fallback when it carries none.
func UserMessage(err error, fallback string) string {
	var ue *UserError
	if errors.As(err, &ue) && ue.Message != "" {
		return ue.Message
	}
	return fallback
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}

func isRepoUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsUnavailable()
	}
	return false
}

func noopLogger(context.Context, string, map[string]any) {}
