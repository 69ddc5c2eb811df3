package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.bug.st/serial"

	"sensorlink/internal/domain/ports"
)

var _ ports.SerialTransport = (*Transport)(nil)

func TestModeFor(t *testing.T) {
	mode := ModeFor(19200)
	assert.Equal(t, 19200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.NoParity, mode.Parity)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
}

func TestOpenMissingPort(t *testing.T) {
	_, err := NewTransport().Open("/dev/sensorlink-does-not-exist", 0)
	assert.Error(t, err)
}
