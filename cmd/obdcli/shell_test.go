package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obd-service/internal/obd"
	"obd-service/internal/telemetry"
)

func TestFormatResponse(t *testing.T) {
	r := obd.Response{Raw: []byte("41 0C 1A F8\r\r>"), Prompted: true, Elapsed: 123 * time.Millisecond}

	out := FormatResponse(r)
	assert.Contains(t, out, `raw:    "41 0C 1A F8\r\r>"`)
	assert.Contains(t, out, "bytes:  410C1AF8")
	assert.Contains(t, out, "prompt: true (123ms)")
}

func TestFormatSnapshot(t *testing.T) {
	assert.Equal(t, "rpm=-- speed=-- temp=20C", FormatSnapshot(telemetry.NewState().Snapshot()))
	assert.Equal(t, "rpm=1726 speed=80km/h temp=85C",
		FormatSnapshot(telemetry.Snapshot{RPM: 1726, Speed: 80, Temperature: 85}))
}

func TestWatchDuration(t *testing.T) {
	d, err := watchDuration(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultWatch, d)

	d, err = watchDuration([]string{"3"})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	for _, arg := range []string{"0", "-2", "abc"} {
		_, err := watchDuration([]string{arg})
		assert.Error(t, err, arg)
	}
}

func TestDecodeReply(t *testing.T) {
	rpm := obd.Response{Raw: []byte("41 0C 1A F8\r\r>"), Prompted: true}
	assert.Equal(t, "value:  1726 rpm", DecodeReply("010C", rpm))
	assert.Equal(t, "value:  1726 rpm", DecodeReply("010c", rpm))

	temp := obd.Response{Raw: []byte("41 05 7D\r\r>"), Prompted: true}
	assert.Equal(t, "value:  85 C", DecodeReply("0105", temp))

	noData := obd.Response{Raw: []byte("NO DATA\r\r>"), Prompted: true}
	assert.Equal(t, "value:  -1 km/h", DecodeReply("010D", noData))

	assert.Empty(t, DecodeReply("ATZ", rpm))
}

func TestFormatSendError(t *testing.T) {
	timeout := &obd.CommandError{Command: "010C", Err: fmt.Errorf("%w after 1s", obd.ErrTimeout)}
	assert.Contains(t, FormatSendError(timeout), "no response from adapter")

	notConnected := &obd.CommandError{Command: "010C", Err: obd.ErrNotConnected}
	assert.Equal(t, notConnected.Error(), FormatSendError(notConnected))
}
