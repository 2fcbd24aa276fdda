package engine

import (
	"errors"
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFoundError(conflictID string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("conflict %s not found", conflictID), nil)
}

func alreadyResolvedError(conflictID string) *DomainError {
	return domainError(http.StatusConflict, "ALREADY_RESOLVED", fmt.Sprintf("conflict %s is already resolved", conflictID), nil)
}

func invalidActionError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID_ACTION", message, nil)
}

// IsNotFound reports whether err is the engine's NOT_FOUND rejection.
func IsNotFound(err error) bool {
	return hasCode(err, "NOT_FOUND")
}

// IsAlreadyResolved reports whether err is the ALREADY_RESOLVED rejection.
func IsAlreadyResolved(err error) bool {
	return hasCode(err, "ALREADY_RESOLVED")
}

// IsInvalidAction reports whether err is the INVALID_ACTION rejection.
func IsInvalidAction(err error) bool {
	return hasCode(err, "INVALID_ACTION")
}

func hasCode(err error, code string) bool {
	var domain *DomainError
	if errors.As(err, &domain) {
		return domain.Code == code
	}
	return false
}
