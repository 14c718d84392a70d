package alerts

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrAlarmNotFound indicates no alarm exists with the given id.
	ErrAlarmNotFound = errors.New("alarm not found")

	// ErrAlreadyAcknowledged indicates the alarm is already in ACK or ACKRTN.
	ErrAlreadyAcknowledged = errors.New("alarm already acknowledged")

	// ErrParameterNotFound indicates no parameter matches the given ids.
	ErrParameterNotFound = errors.New("parameter not found")

	// ErrDeviceNotFound indicates no device exists with the given id.
	ErrDeviceNotFound = errors.New("device not found")
)

// CompilationError indicates a rule condition could not be parsed.
// The rule's predicate fails closed.
type CompilationError struct {
	RuleID     uuid.UUID
	Expression string
	Err        error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("compile rule %s: %q: %v", e.RuleID, e.Expression, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// MissingBindingError indicates the expression references names the
// evaluated parameter cannot supply.
type MissingBindingError struct {
	RuleID      uuid.UUID
	ParameterID uuid.UUID
	Missing     []string
}

func (e *MissingBindingError) Error() string {
	return fmt.Sprintf("rule %s on parameter %s: missing bindings: %s",
		e.RuleID, e.ParameterID, strings.Join(e.Missing, ", "))
}

// PersistenceConflict indicates the store rejected an alarm write, usually
// because a referenced device, parameter or rule no longer exists.
type PersistenceConflict struct {
	AlarmID     uuid.UUID
	DeviceID    uuid.UUID
	ParameterID uuid.UUID
	RuleID      uuid.UUID

	MissingDevice    bool
	MissingParameter bool
	MissingRule      bool

	Err error
}

// MissingReferences names the references found to be missing.
func (e *PersistenceConflict) MissingReferences() []string {
	var refs []string
	if e.MissingDevice {
		refs = append(refs, "device "+e.DeviceID.String())
	}
	if e.MissingParameter {
		refs = append(refs, "parameter "+e.ParameterID.String())
	}
	if e.MissingRule {
		refs = append(refs, "rule "+e.RuleID.String())
	}
	return refs
}

func (e *PersistenceConflict) Error() string {
	refs := e.MissingReferences()
	if len(refs) == 0 {
		return fmt.Sprintf("persist alarm %s: %v", e.AlarmID, e.Err)
	}
	return fmt.Sprintf("persist alarm %s: missing %s: %v", e.AlarmID, strings.Join(refs, ", "), e.Err)
}

func (e *PersistenceConflict) Unwrap() error { return e.Err }

// TransportError indicates the store could not be reached.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is, or wraps, a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
