package motus

import "fmt"

// ErrorCode represents specific error conditions in the state machine
type ErrorCode int

const (
	// No error occurred
	ErrCodeNone ErrorCode = iota
	// Entity belongs to a different machine
	ErrCodeNotOwned
	// Entity was removed from its machine
	ErrCodeInvalidEntity
	// State id does not exist in this machine
	ErrCodeUnknownState
	// Transition id does not exist in this machine
	ErrCodeUnknownTransition
	// Same id declared twice in a snapshot
	ErrCodeDuplicateID
	// Machine is already started
	ErrCodeAlreadyStarted
	// Machine is not started
	ErrCodeNotStarted
	// Notification addressed to a different machine
	ErrCodeMachineMismatch
	// Notification sequence was already applied
	ErrCodeStaleNotification
	// Notification sequence skips ahead
	ErrCodeSequenceGap
	// Runner message queue is at capacity
	ErrCodeQueueFull
	// Definition failed validation
	ErrCodeBadDefinition
	// Name is not present in the registry
	ErrCodeUnknownRef
	// Snapshot is structurally invalid
	ErrCodeBadSnapshot
)

// StateError represents state-related errors
type StateError struct {
	Code    ErrorCode
	StateID int
	Message string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state error [%d]: %s", e.StateID, e.Message)
}

// NewStateError creates a new state error with custom values
func NewStateError(code ErrorCode, stateID int, message string) *StateError {
	return &StateError{
		Code:    code,
		StateID: stateID,
		Message: message,
	}
}

// NewUnknownStateError creates a new unknown state id error
func NewUnknownStateError(stateID int) *StateError {
	return &StateError{
		Code:    ErrCodeUnknownState,
		StateID: stateID,
		Message: fmt.Sprintf("state %d not found", stateID),
	}
}

// NewInvalidStateError creates a new error for a removed or foreign state
func NewInvalidStateError(code ErrorCode, stateID int, reason string) *StateError {
	return &StateError{
		Code:    code,
		StateID: stateID,
		Message: reason,
	}
}

// TransitionError represents transition-related errors
type TransitionError struct {
	Code         ErrorCode
	TransitionID int
	Message      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition error [%d]: %s", e.TransitionID, e.Message)
}

// NewTransitionError creates a new transition error with custom values
func NewTransitionError(code ErrorCode, transitionID int, message string) *TransitionError {
	return &TransitionError{
		Code:         code,
		TransitionID: transitionID,
		Message:      message,
	}
}

// NewUnknownTransitionError creates a new unknown transition id error
func NewUnknownTransitionError(transitionID int) *TransitionError {
	return &TransitionError{
		Code:         ErrCodeUnknownTransition,
		TransitionID: transitionID,
		Message:      fmt.Sprintf("transition %d not found", transitionID),
	}
}

// MachineError represents state machine operation errors
type MachineError struct {
	Code      ErrorCode
	Operation string
	Message   string
}

func (e *MachineError) Error() string {
	return fmt.Sprintf("machine error during %s: %s", e.Operation, e.Message)
}

// NewMachineError creates a new machine error
func NewMachineError(code ErrorCode, operation string, message string) *MachineError {
	return &MachineError{
		Code:      code,
		Operation: operation,
		Message:   message,
	}
}

// NewAlreadyStartedError creates a new already started error
func NewAlreadyStartedError(operation string) *MachineError {
	return &MachineError{
		Code:      ErrCodeAlreadyStarted,
		Operation: operation,
		Message:   "state machine is already started",
	}
}

// NewNotStartedError creates a new machine not started error
func NewNotStartedError(operation string) *MachineError {
	return &MachineError{
		Code:      ErrCodeNotStarted,
		Operation: operation,
		Message:   "state machine is not started",
	}
}

// ReplicationError represents replicated fire application errors
type ReplicationError struct {
	Code     ErrorCode
	Machine  string
	Sequence uint64
	Message  string
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("replication error [machine %s seq %d]: %s", e.Machine, e.Sequence, e.Message)
}

// NewReplicationError creates a new replication error with custom values
func NewReplicationError(code ErrorCode, machine string, sequence uint64, message string) *ReplicationError {
	return &ReplicationError{
		Code:     code,
		Machine:  machine,
		Sequence: sequence,
		Message:  message,
	}
}

// NewMachineMismatchError creates a new foreign machine id error
func NewMachineMismatchError(machine string, sequence uint64) *ReplicationError {
	return &ReplicationError{
		Code:     ErrCodeMachineMismatch,
		Machine:  machine,
		Sequence: sequence,
		Message:  "notification addressed to a different machine",
	}
}

// DefinitionError represents machine definition issues
type DefinitionError struct {
	Code    ErrorCode
	Element string
	Issue   string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("definition error in %s: %s", e.Element, e.Issue)
}

// NewDefinitionError creates a new definition validation error
func NewDefinitionError(element, issue string) *DefinitionError {
	return &DefinitionError{
		Code:    ErrCodeBadDefinition,
		Element: element,
		Issue:   issue,
	}
}

// NewUnknownRefError creates a new unknown registry name error
func NewUnknownRefError(element, name string) *DefinitionError {
	return &DefinitionError{
		Code:    ErrCodeUnknownRef,
		Element: element,
		Issue:   fmt.Sprintf("name '%s' is not registered", name),
	}
}

// SnapshotError represents structurally invalid snapshots
type SnapshotError struct {
	Issue string
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot error: %s", e.Issue)
}

// NewSnapshotError creates a new snapshot error
func NewSnapshotError(issue string) *SnapshotError {
	return &SnapshotError{Issue: issue}
}

// IsStateError checks if an error is a StateError
func IsStateError(err error) bool {
	_, ok := err.(*StateError)
	return ok
}

// IsTransitionError checks if an error is a TransitionError
func IsTransitionError(err error) bool {
	_, ok := err.(*TransitionError)
	return ok
}

// IsMachineError checks if an error is a MachineError
func IsMachineError(err error) bool {
	_, ok := err.(*MachineError)
	return ok
}

// IsReplicationError checks if an error is a ReplicationError
func IsReplicationError(err error) bool {
	_, ok := err.(*ReplicationError)
	return ok
}

// IsDefinitionError checks if an error is a DefinitionError
func IsDefinitionError(err error) bool {
	_, ok := err.(*DefinitionError)
	return ok
}

// IsSnapshotError checks if an error is a SnapshotError
func IsSnapshotError(err error) bool {
	_, ok := err.(*SnapshotError)
	return ok
}

// GetErrorCode returns the error code for known error types
func GetErrorCode(err error) ErrorCode {
	switch e := err.(type) {
	case *StateError:
		return e.Code
	case *TransitionError:
		return e.Code
	case *MachineError:
		return e.Code
	case *ReplicationError:
		return e.Code
	case *DefinitionError:
		return e.Code
	case *SnapshotError:
		return ErrCodeBadSnapshot
	default:
		return ErrCodeNone
	}
}
