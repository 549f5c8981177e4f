package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrLockHeld     = errors.New("lock already held")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")

	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("concurrent reconciliation in progress")
	ErrStore        = errors.New("store failure")
	ErrCacheCompute = errors.New("cache compute failed")
)

// ValidationError describes a malformed input row or argument. Row-level
// validation errors are collected as warnings and never abort a pass.
type ValidationError struct {
	Field  string
	Reason string
	Ref    string // instrument key or order id of the offending row, if any
}

func (e *ValidationError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("validation: %s: %s (%s)", e.Field, e.Reason, e.Ref)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ConflictError is returned when another process holds the tenant's
// reconciliation lock.
type ConflictError struct {
	TenantID string
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: tenant %s: %v", e.TenantID, e.Err)
}

func (e *ConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConflict}
	}
	return []error{ErrConflict, e.Err}
}

// StoreError wraps a transaction or persistence failure. The ledger is left
// unchanged when a pass returns a StoreError.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStore, e.Err} }

// CacheComputeError wraps a failure of the compute function behind a cache
// miss. It is never cached.
type CacheComputeError struct {
	Key string
	Err error
}

func (e *CacheComputeError) Error() string {
	return fmt.Sprintf("cache: compute %s: %v", e.Key, e.Err)
}

func (e *CacheComputeError) Unwrap() []error { return []error{ErrCacheCompute, e.Err} }
