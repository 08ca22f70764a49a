package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every typed error below unwraps to one of these so callers
// can branch with errors.Is.
var (
	// ErrValidation indicates malformed or out-of-range request fields.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates a reference to a nonexistent entity.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidParent indicates session creation under a missing or inactive parent.
	ErrInvalidParent = errors.New("invalid parent session")

	// ErrDuplicate indicates an entity with the same id already exists.
	ErrDuplicate = errors.New("entity already exists")
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a typed validation error.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError wraps ErrNotFound with entity details.
type NotFoundError struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a typed not found error.
func NewNotFoundError(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InvalidParentError wraps ErrInvalidParent.
type InvalidParentError struct {
	ParentID string `json:"parentId"`
	Reason   string `json:"reason"`
}

func (e *InvalidParentError) Error() string {
	return fmt.Sprintf("invalid parent session %s: %s", e.ParentID, e.Reason)
}

func (e *InvalidParentError) Unwrap() error { return ErrInvalidParent }

// NewInvalidParentError creates a typed invalid parent error.
func NewInvalidParentError(parentID, reason string) error {
	return &InvalidParentError{ParentID: parentID, Reason: reason}
}

// DuplicateError wraps ErrDuplicate with entity details.
type DuplicateError struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// NewDuplicateError creates a typed duplicate error.
func NewDuplicateError(entity, id string) error {
	return &DuplicateError{Entity: entity, ID: id}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidParent reports whether err is an invalid parent error.
func IsInvalidParent(err error) bool { return errors.Is(err, ErrInvalidParent) }

// IsDuplicate reports whether err is a duplicate error.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }
