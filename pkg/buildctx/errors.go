package buildctx

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by a Context after Close
var ErrClosed = errors.New("build context closed")

// ErrUnknownModule is returned by a Host asked to load a module it does not provide
var ErrUnknownModule = errors.New("unknown module")

// LinkError reports a reference that could not be resolved against the build context
type LinkError struct {
	ID        string
	Reference string
	// Member is set when the reference resolved but lacks an imported member
	Member string
	Err    error
}

func (e *LinkError) Error() string {
	msg := fmt.Sprintf("plugin %s: unresolved reference %q", e.ID, e.Reference)
	if e.Member != "" {
		msg = fmt.Sprintf("plugin %s: reference %q has no member %q", e.ID, e.Reference, e.Member)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// PolicyError reports a reference the host security policy refuses to an untrusted plugin
type PolicyError struct {
	ID        string
	Reference string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("plugin %s: reference %q is denied by host security policy", e.ID, e.Reference)
}
