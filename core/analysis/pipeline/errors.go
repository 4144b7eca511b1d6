package pipeline

import (
	"errors"

	"github.com/cordum/cjcard/core/analysis/manifest"
	"github.com/cordum/cjcard/core/analysis/store"
)

// Kind classifies pipeline failures.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindProvision      Kind = "provision"
	KindWorkspace      Kind = "workspace"
	KindFetch          Kind = "fetch"
	KindMetadata       Kind = "metadata"
	KindInvoke         Kind = "invoke"
	KindStore          Kind = "store"
	KindInvalidRequest Kind = "invalid_request"
	KindInternal       Kind = "internal"
)

// ErrMissingRepo is returned when a request names no repository.
var ErrMissingRepo = errors.New("repo query parameter is required")

// Error is a failed pipeline step.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindInternal for errors the pipeline did not produce.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsClientError reports whether err was caused by the request itself.
func IsClientError(err error) bool {
	return KindOf(err) == KindInvalidRequest
}

func storeKind(err error) Kind {
	if errors.Is(err, store.ErrMissingURL) {
		return KindConfiguration
	}
	return KindStore
}

// metadataDetail names which manifest failure occurred, for logs.
func metadataDetail(err error) string {
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		return "not_found"
	case errors.Is(err, manifest.ErrParse):
		return "parse"
	case errors.Is(err, manifest.ErrMissingName):
		return "missing_name"
	default:
		return "io"
	}
}
