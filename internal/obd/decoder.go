package obd

import "fmt"

const (
	// MaxParsedBytes caps the bytes ParseHex collects from one response.
	MaxParsedBytes = 64

	// Unavailable is the sentinel for an RPM or speed that could not be read.
	Unavailable = -1

	// MinCoolantTemp is the lowest value the coolant formula can produce.
	MinCoolantTemp = -40
)

// ParseHex extracts byte pairs from an adapter response. Characters that
// are not hex digits are skipped, so echoed commands, whitespace, line
// breaks and the prompt do not matter. Once a hex digit is found the next
// character is consumed with it; if that character is not a hex digit the
// byte is the value of the lone digit. A final unpaired digit is dropped.
//
// ParseHex never fails; it returns an empty slice when nothing decodes.
func ParseHex(response string) []byte {
	out := make([]byte, 0, 8)

	for i := 0; i < len(response) && len(out) < MaxParsedBytes; {
		hi, ok := hexValue(response[i])
		if !ok {
			i++
			continue
		}
		if i+1 >= len(response) {
			break
		}

		if lo, ok := hexValue(response[i+1]); ok {
			out = append(out, hi<<4|lo)
		} else {
			out = append(out, hi)
		}
		i += 2
	}

	return out
}

func hexValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Validate checks that data is a positive reply to pid with enough bytes.
func Validate(pid PID, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: no hex bytes in response", ErrDecode)
	}
	if len(data) < pid.Length {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrDecode, pid, pid.Length, len(data))
	}
	if data[0] != pid.ResponseMode() || data[1] != pid.Code {
		return fmt.Errorf("%w: header %02X %02X does not answer %s", ErrDecode, data[0], data[1], pid)
	}
	return nil
}

// Decode validates data against pid and converts the payload. On failure
// it returns Unavailable together with an ErrDecode error.
func Decode(pid PID, data []byte) (int, error) {
	if err := Validate(pid, data); err != nil {
		return Unavailable, err
	}

	a := int(data[2])
	switch pid.Code {
	case PIDEngineRPM.Code:
		return (a*256 + int(data[3])) / 4, nil
	case PIDVehicleSpeed.Code:
		return a, nil
	case PIDCoolantTemp.Code:
		return a - 40, nil
	}
	return Unavailable, fmt.Errorf("%w: unsupported pid %s", ErrDecode, pid)
}

// ExtractRPM returns engine RPM or Unavailable.
func ExtractRPM(data []byte) int {
	v, _ := Decode(PIDEngineRPM, data)
	return v
}

// ExtractSpeed returns road speed in km/h or Unavailable.
func ExtractSpeed(data []byte) int {
	v, _ := Decode(PIDVehicleSpeed, data)
	return v
}

// ExtractCoolantTemp returns coolant temperature in °C, or Unavailable for
// an invalid response. Unavailable is also a legal temperature (0x27), so
// callers that must tell them apart use Decode.
func ExtractCoolantTemp(data []byte) int {
	v, _ := Decode(PIDCoolantTemp, data)
	return v
}
