package transport

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerDeliversFramesToHandlerAndAcks(t *testing.T) {
	var mu sync.Mutex
	var received [][]byte

	ln, err := Listen("127.0.0.1:0", func(frame []byte, addr net.Addr) error {
		mu.Lock()
		received = append(received, frame)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)
	defer ln.Close()

	conn, err := DialPersistent(ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send([]byte("frame one")))
	require.NoError(t, conn.Send([]byte("frame two")))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.Equal(t, []byte("frame one"), received[0])
	assert.Equal(t, []byte("frame two"), received[1])
}

func TestListenerWithholdsAckOnHandlerError(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", func(frame []byte, addr net.Addr) error {
		return errors.New("signature verification failed")
	})
	require.NoError(t, err)
	defer ln.Close()

	conn, err := DialPersistent(ln.Addr().String(), 150*time.Millisecond)
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Send([]byte("rejected frame"))
	assert.Error(t, err)
}

func TestDialPersistentFailsAgainstClosedPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = DialPersistent(addr, 200*time.Millisecond)
	assert.Error(t, err)
}
