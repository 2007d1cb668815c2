package obd

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection reports that the device could not be opened.
	ErrConnection = errors.New("obd: cannot open adapter")

	// ErrProtocolInit reports that the adapter did not answer the reset.
	ErrProtocolInit = errors.New("obd: adapter did not respond to reset")

	// ErrNotConnected is returned for commands on a closed adapter.
	ErrNotConnected = errors.New("obd: adapter not connected")

	// ErrIO reports a failed or partial command write.
	ErrIO = errors.New("obd: command write failed")

	// ErrTimeout reports that no byte arrived within the read budget.
	ErrTimeout = errors.New("obd: no response from adapter")

	// ErrDecode reports a response that does not answer the query.
	ErrDecode = errors.New("obd: invalid response")
)

// CommandError ties an exchange failure to the command that caused it.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
