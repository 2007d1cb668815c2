package obd

import (
	"fmt"
	"strings"
)

// ELM327 adapter commands
const (
	CommandReset        = "ATZ"
	CommandEchoOff      = "ATE0"
	CommandAutoProtocol = "ATSP0"
)

const (
	// Terminator ends every command sent to the adapter.
	Terminator = '\r'

	// Prompt is emitted by the adapter once it is idle.
	Prompt = '>'

	// ModeCurrentData is the OBD-II service for live data.
	ModeCurrentData byte = 0x01

	// positiveResponseOffset is added to the mode in a positive reply.
	positiveResponseOffset byte = 0x40
)

// PID identifies a mode-1 measurement and the response length it needs.
type PID struct {
	Mode   byte
	Code   byte
	Name   string
	Length int
}

var (
	PIDCoolantTemp  = PID{Mode: ModeCurrentData, Code: 0x05, Name: "coolant_temp", Length: 3}
	PIDEngineRPM    = PID{Mode: ModeCurrentData, Code: 0x0C, Name: "rpm", Length: 4}
	PIDVehicleSpeed = PID{Mode: ModeCurrentData, Code: 0x0D, Name: "speed", Length: 3}
)

// String returns the query as sent on the wire, e.g. "010C".
func (p PID) String() string {
	return fmt.Sprintf("%02X%02X", p.Mode, p.Code)
}

// ResponseMode is the first byte of a positive reply (0x41 for mode 1).
func (p PID) ResponseMode() byte {
	return p.Mode + positiveResponseOffset
}

// Frame returns cmd terminated with exactly one carriage return.
func Frame(cmd string) []byte {
	cmd = strings.TrimRight(cmd, "\r\n")
	return append([]byte(cmd), Terminator)
}
