package connection

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerTrackAndRelease(t *testing.T) {
	m := NewManager(1)
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	release, err := m.Track("game.test:443", a, b)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Count())

	c, d := net.Pipe()
	defer c.Close()
	defer d.Close()
	_, err = m.Track("game.test:443", c, d)
	assert.ErrorIs(t, err, ErrTooManyConnections)

	release()
	release()
	assert.Zero(t, m.Count())

	_, err = m.Track("game.test:443", c, d)
	assert.NoError(t, err)
}

func TestManagerCloseAll(t *testing.T) {
	m := NewManager(0)
	a, b := net.Pipe()
	defer b.Close()

	_, err := m.Track("game.test:443", a)
	require.NoError(t, err)
	require.NoError(t, m.CloseAll())

	_, err = a.Write([]byte("x"))
	assert.Error(t, err, "tracked connection must be closed")

	_, err = m.Track("game.test:443", b)
	assert.ErrorIs(t, err, net.ErrClosed)
}
