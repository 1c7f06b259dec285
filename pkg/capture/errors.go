package capture

import "fmt"

// ConfigurationError marks a session that cannot be made usable:
// no strategy could be initialized, or the output configuration is
// contradictory (streaming plus an explicit save path).
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture configuration: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("capture configuration: %s", e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransportError marks a failure of the event channel between the
// session and the browser: attaching, enabling the protocol domain, or
// detaching.
type TransportError struct {
	Channel string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("capture transport %s: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// PreconditionError marks an operation invoked out of the
// Created → Started → Stopped lifecycle order, or on a disposed session.
type PreconditionError struct {
	Op       string
	State    State
	Disposed bool
}

func (e *PreconditionError) Error() string {
	if e.Disposed {
		return fmt.Sprintf("capture %s: session is disposed", e.Op)
	}
	return fmt.Sprintf("capture %s: invalid in state %s", e.Op, e.State)
}
