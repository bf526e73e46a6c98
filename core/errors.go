package core

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// ErrorKind classifies failures so callers can tell an invalid request from a system that could not record it.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalid
	KindNotFound
	KindConflict
	KindExhausted
	KindUnauthorized
	KindDurability
)

var kindNames = map[ErrorKind]string{
	KindUnknown:      "unknown",
	KindInvalid:      "invalid",
	KindNotFound:     "not_found",
	KindConflict:     "conflict",
	KindExhausted:    "exhausted",
	KindUnauthorized: "unauthorized",
	KindDurability:   "durability",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

type kinder interface {
	Kind() ErrorKind
}

type kindError struct {
	kind ErrorKind
	msg  string
}

func (e *kindError) Error() string   { return e.msg }
func (e *kindError) Kind() ErrorKind { return e.kind }

// NewError returns a sentinel error of the given kind.
func NewError(kind ErrorKind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// StorageError reports a failure of the persistent store itself.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err unless it is nil or already classified.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error   { return e.Err }
func (e *StorageError) Kind() ErrorKind { return KindDurability }

// KindOf walks the chain of err and returns the first kind found.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return KindInvalid
	}
	var fldErrs validator.ValidationErrors
	if errors.As(err, &fldErrs) {
		return KindInvalid
	}
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

func (err ValidationError) Unwrap() error {
	return err.Err
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
