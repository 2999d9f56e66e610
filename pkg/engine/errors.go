package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an invocation ended without regenerating project files.
type ErrorKind string

const (
	// KindEngineRootNotFound: no candidate root matched the engine target pattern.
	KindEngineRootNotFound ErrorKind = "engine_root_not_found"

	// KindProjectDescriptorNotFound: no candidate root ended in .uproject.
	KindProjectDescriptorNotFound ErrorKind = "project_descriptor_not_found"

	// KindModuleTopology: the host model reported other than exactly one module.
	KindModuleTopology ErrorKind = "module_topology"

	// KindProcessSpawn: the build tool could not be started.
	KindProcessSpawn ErrorKind = "process_spawn"

	// KindNonZeroExit: the build tool exited with a code other than 0.
	KindNonZeroExit ErrorKind = "non_zero_exit"

	// KindInternal: an unexpected fault inside the procedure.
	KindInternal ErrorKind = "internal"

	// KindBusy: a trigger arrived while another invocation held the busy state.
	KindBusy ErrorKind = "busy"

	// KindCanceled: the context was cancelled or its deadline passed.
	KindCanceled ErrorKind = "canceled"

	// KindHookFailed: the extra-arguments hook returned an error.
	KindHookFailed ErrorKind = "hook_failed"
)

// GenerationError is a classified invocation failure.
type GenerationError struct {
	// Kind is the failure classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// ExitCode is set for KindNonZeroExit.
	ExitCode int `json:"exit_code,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`

	// Details contains diagnostic context (paths, modules).
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is matches any *GenerationError of the same kind, so the exported
// sentinels work with errors.Is.
func (e *GenerationError) Is(target error) bool {
	t, ok := target.(*GenerationError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail adds a detail field to the error context.
func (e *GenerationError) WithDetail(key string, value interface{}) *GenerationError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is.
var (
	ErrEngineRootNotFound        = &GenerationError{Kind: KindEngineRootNotFound, Message: "could not determine engine root path"}
	ErrProjectDescriptorNotFound = &GenerationError{Kind: KindProjectDescriptorNotFound, Message: "could not determine uproject"}
	ErrModuleTopology            = &GenerationError{Kind: KindModuleTopology, Message: "expected exactly one module"}
	ErrProcessSpawn              = &GenerationError{Kind: KindProcessSpawn, Message: "failed to start build tool"}
	ErrNonZeroExit               = &GenerationError{Kind: KindNonZeroExit, Message: "build tool failed"}
	ErrInternal                  = &GenerationError{Kind: KindInternal, Message: "internal error"}
	ErrBusy                      = &GenerationError{Kind: KindBusy, Message: "project file generation already running"}
	ErrCanceled                  = &GenerationError{Kind: KindCanceled, Message: "project file generation canceled"}
	ErrHookFailed                = &GenerationError{Kind: KindHookFailed, Message: "extra arguments hook failed"}
)

func newError(kind ErrorKind, message string, err error) *GenerationError {
	return &GenerationError{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of the first *GenerationError in err's chain,
// or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *GenerationError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a *GenerationError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsBusy returns true if the trigger was refused because an invocation was running.
func IsBusy(err error) bool {
	return IsKind(err, KindBusy)
}
