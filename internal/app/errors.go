package app

import (
	"database/sql"
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

// invalidArgument rejects a request before any store call is issued.
func invalidArgument(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INVALID_ARGUMENT", message, nil)
}

// notFound covers both absent rows and rows owned by another identity. The
// two are deliberately indistinguishable so callers cannot probe for the
// existence of other owners' boards or cards.
func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func authRequired(message string) *DomainError {
	return domainError(http.StatusUnauthorized, "AUTH_REQUIRED", message, nil)
}

func storeError(err error) *DomainError {
	return domainError(http.StatusInternalServerError, "STORE_ERROR", err.Error(), nil)
}

// wrapStoreErr converts a raw store failure into the domain taxonomy,
// folding sql.ErrNoRows into not-found.
func wrapStoreErr(err error, missing string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(missing)
	}
	return storeError(err)
}
