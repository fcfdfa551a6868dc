package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrTemporary       = errors.New("temporary failure")

	ErrRegistry          = errors.New("registry error")
	ErrContractViolation = errors.New("contract violation")
	ErrMissingProvenance = errors.New("missing provenance")
	ErrCacheCorruption   = errors.New("cache corruption")
	ErrProvider          = errors.New("provider error")
	ErrStageTimeout      = errors.New("stage timeout")
	ErrProjectBusy       = errors.New("project run in progress")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// RegistryError reports a manifest or registry invariant failure. It is fatal at startup.
type RegistryError struct {
	Module string
	Reason string
}

func (e *RegistryError) Error() string {
	if e == nil {
		return ErrRegistry.Error()
	}
	if e.Module == "" {
		return fmt.Sprintf("%s: %s", ErrRegistry, e.Reason)
	}
	return fmt.Sprintf("%s: module %q: %s", ErrRegistry, e.Module, e.Reason)
}

func (e *RegistryError) Unwrap() error { return ErrRegistry }

// ContractViolation carries the offending field path of a stage output.
type ContractViolation struct {
	Stage    string
	Contract string
	Path     string
	Reason   string
}

func (e *ContractViolation) Error() string {
	if e == nil {
		return ErrContractViolation.Error()
	}
	return fmt.Sprintf("%s: stage %q contract %q at %s: %s", ErrContractViolation, e.Stage, e.Contract, e.Path, e.Reason)
}

func (e *ContractViolation) Unwrap() error { return ErrContractViolation }

// MissingProvenanceError lists the items of a stage output that carry no source attribution.
type MissingProvenanceError struct {
	Stage   string
	ItemIDs []string
	Reason  string
}

func (e *MissingProvenanceError) Error() string {
	if e == nil {
		return ErrMissingProvenance.Error()
	}
	reason := e.Reason
	if reason == "" {
		reason = "no source attribution"
	}
	return fmt.Sprintf("%s: stage %q items [%s]: %s", ErrMissingProvenance, e.Stage, strings.Join(e.ItemIDs, ", "), reason)
}

func (e *MissingProvenanceError) Unwrap() error { return ErrMissingProvenance }

// CacheCorruptionError marks a persisted snapshot that cannot be decoded.
type CacheCorruptionError struct {
	ProjectID string
	Err       error
}

func (e *CacheCorruptionError) Error() string {
	if e == nil {
		return ErrCacheCorruption.Error()
	}
	return fmt.Sprintf("%s: project %q: %v", ErrCacheCorruption, e.ProjectID, e.Err)
}

func (e *CacheCorruptionError) Unwrap() []error { return []error{ErrCacheCorruption, e.Err} }

type ProviderErrorKind string

const (
	ProviderRateLimited     ProviderErrorKind = "rate_limited"
	ProviderTimeout         ProviderErrorKind = "timeout"
	ProviderInvalidResponse ProviderErrorKind = "invalid_response"
	ProviderUnavailable     ProviderErrorKind = "unavailable"
)

// ProviderError is returned by parsers and reasoning providers.
type ProviderError struct {
	Kind      ProviderErrorKind
	Operation string
	Err       error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ErrProvider.Error()
	}
	msg := fmt.Sprintf("%s (%s)", ErrProvider, e.Kind)
	if e.Operation != "" {
		msg = fmt.Sprintf("%s: %s", e.Operation, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ProviderError) Unwrap() []error {
	out := []error{ErrProvider}
	if e.Kind == ProviderTimeout {
		out = append(out, ErrStageTimeout)
	}
	if e.Kind == ProviderRateLimited || e.Kind == ProviderTimeout || e.Kind == ProviderUnavailable {
		out = append(out, ErrTemporary)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Retryable reports whether the caller may retry the operation.
func (e *ProviderError) Retryable() bool {
	return e != nil && (e.Kind == ProviderRateLimited || e.Kind == ProviderTimeout || e.Kind == ProviderUnavailable)
}

func NewProviderError(kind ProviderErrorKind, operation string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Operation: operation, Err: err}
}

// ProviderKind extracts the provider error kind from err, if any.
func ProviderKind(err error) (ProviderErrorKind, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Kind, true
	}
	return "", false
}
