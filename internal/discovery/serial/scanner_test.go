package serial

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap/zaptest"
)

func withPorts(t *testing.T, ports []*enumerator.PortDetails, err error) {
	t.Helper()
	orig := listPorts
	listPorts = func() ([]*enumerator.PortDetails, error) { return ports, err }
	t.Cleanup(func() { listPorts = orig })
}

func TestScanRatesPorts(t *testing.T) {
	withPorts(t, []*enumerator.PortDetails{
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A50285BI", Product: "FT232R USB UART"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "dead", PID: "beef"},
		{Name: "/dev/rfcomm0"},
		{Name: "/dev/ttyS0"},
	}, nil)

	ports, err := NewScanner(zaptest.NewLogger(t)).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 4)

	assert.Equal(t, "usb", ports[0].Kind)
	assert.Equal(t, "FTDI FT232R", ports[0].Bridge)
	assert.Equal(t, 0.8, ports[0].Confidence)
	assert.Equal(t, "A50285BI", ports[0].SerialNumber)

	assert.Equal(t, "DEAD", ports[1].VendorID)
	assert.Empty(t, ports[1].Bridge)
	assert.Equal(t, confidenceUnknown, ports[1].Confidence)

	assert.Equal(t, "bluetooth", ports[2].Kind)
	assert.Equal(t, confidenceBluetooth, ports[2].Confidence)

	assert.Equal(t, "serial", ports[3].Kind)
	assert.Equal(t, confidenceOther, ports[3].Confidence)
}

func TestScanEnumeratorFailure(t *testing.T) {
	withPorts(t, nil, errors.New("udev unavailable"))

	_, err := NewScanner(zaptest.NewLogger(t)).Scan(context.Background())
	assert.ErrorContains(t, err, "udev unavailable")
}

func TestScanCancelled(t *testing.T) {
	withPorts(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner(zaptest.NewLogger(t)).Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
