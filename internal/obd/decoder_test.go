package obd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHex(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []byte
	}{
		{"rpm reply", "41 0C 1A F8", []byte{0x41, 0x0C, 0x1A, 0xF8}},
		{"lower case", "41 0c 1a f8", []byte{0x41, 0x0C, 0x1A, 0xF8}},
		{"no separators", "410C1AF8", []byte{0x41, 0x0C, 0x1A, 0xF8}},
		{"prompt and line breaks", "\r\n41 0D 50 \r\n\r\n>", []byte{0x41, 0x0D, 0x50}},
		{"echoed command", "010D\r41 0D 50\r\r>", []byte{0x01, 0x0D, 0x41, 0x0D, 0x50}},
		{"odd trailing digit dropped", "41 0C 1", []byte{0x41, 0x0C}},
		{"lone digit before separator", "4 1", []byte{0x04}},
		{"empty", "", []byte{}},
		{"single digit", "7", []byte{}},
		{"no hex", "OK\r>", []byte{}},
		{"letters that happen to be hex", "SEARCHING...", []byte{0xEA, 0x0C}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseHex(tt.in))
		})
	}
}

func TestParseHexLoneDigitTakesItsOwnValue(t *testing.T) {
	// "4 " forms one byte; the "1" left over is unpaired and dropped
	assert.Equal(t, []byte{0x04}, ParseHex("4 1"))
	assert.Equal(t, []byte{0x41, 0x0F}, ParseHex("41 F>"))
}

func TestParseHexCapsAt64Bytes(t *testing.T) {
	in := ""
	for i := 0; i < 100; i++ {
		in += "AB "
	}
	out := ParseHex(in)
	assert.Len(t, out, MaxParsedBytes)
}

func TestParseHexIsDeterministic(t *testing.T) {
	in := "41 05 7D\r>"
	first := ParseHex(in)
	second := ParseHex(in)
	assert.Equal(t, first, second)

	first[0] = 0
	assert.Equal(t, []byte{0x41, 0x05, 0x7D}, ParseHex(in))
}

func TestDecodeConversions(t *testing.T) {
	rpm, err := Decode(PIDEngineRPM, ParseHex("41 0C 1A F8"))
	require.NoError(t, err)
	assert.Equal(t, 1726, rpm)

	speed, err := Decode(PIDVehicleSpeed, ParseHex("41 0D 50"))
	require.NoError(t, err)
	assert.Equal(t, 80, speed)

	temp, err := Decode(PIDCoolantTemp, ParseHex("41 05 7D"))
	require.NoError(t, err)
	assert.Equal(t, 85, temp)

	cold, err := Decode(PIDCoolantTemp, ParseHex("41 05 00"))
	require.NoError(t, err)
	assert.Equal(t, MinCoolantTemp, cold)

	maxRPM, err := Decode(PIDEngineRPM, ParseHex("41 0C FF FF"))
	require.NoError(t, err)
	assert.Equal(t, 16383, maxRPM)
}

func TestDecodeRejectsMismatchedResponses(t *testing.T) {
	tests := []struct {
		name string
		pid  PID
		in   string
	}{
		{"empty", PIDEngineRPM, ""},
		{"too short rpm", PIDEngineRPM, "41 0C 1A"},
		{"too short speed", PIDVehicleSpeed, "41 0D"},
		{"wrong pid", PIDEngineRPM, "41 0D 1A F8"},
		{"wrong mode", PIDVehicleSpeed, "42 0D 50"},
		{"negative response", PIDCoolantTemp, "7F 01 12"},
		{"no data", PIDEngineRPM, "NO DATA\r>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode(tt.pid, ParseHex(tt.in))
			assert.ErrorIs(t, err, ErrDecode)
			assert.Equal(t, Unavailable, v)
		})
	}
}

func TestExtractorsReturnSentinelRegardlessOfPayload(t *testing.T) {
	for _, payload := range [][]byte{
		{0x41, 0x0D, 0x1A, 0xF8},
		{0x40, 0x0C, 0xFF, 0xFF},
		{0x00, 0x00, 0x00, 0x00},
	} {
		assert.Equal(t, Unavailable, ExtractRPM(payload))
	}
	assert.Equal(t, Unavailable, ExtractSpeed([]byte{0x41, 0x0C, 0x50}))
	assert.Equal(t, Unavailable, ExtractCoolantTemp([]byte{0x41, 0x0D, 0x7D}))

	assert.Equal(t, 1726, ExtractRPM([]byte{0x41, 0x0C, 0x1A, 0xF8}))
	assert.Equal(t, 80, ExtractSpeed([]byte{0x41, 0x0D, 0x50}))
	assert.Equal(t, 85, ExtractCoolantTemp([]byte{0x41, 0x05, 0x7D}))
}

func TestPIDString(t *testing.T) {
	assert.Equal(t, "010C", PIDEngineRPM.String())
	assert.Equal(t, "010D", PIDVehicleSpeed.String())
	assert.Equal(t, "0105", PIDCoolantTemp.String())
	assert.Equal(t, byte(0x41), PIDEngineRPM.ResponseMode())
}

func TestFrame(t *testing.T) {
	assert.Equal(t, []byte("ATZ\r"), Frame("ATZ"))
	assert.Equal(t, []byte("010C\r"), Frame("010C\r"))
	assert.Equal(t, []byte("ATE0\r"), Frame("ATE0\r\n"))
}
