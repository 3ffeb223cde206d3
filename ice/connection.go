package ice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudflare/circl/sign"
	pionice "github.com/pion/ice/v2"
	"github.com/sirupsen/logrus"
)

// recvQueueCapacity bounds how many inbound frames a Conn buffers before
// the oldest is dropped to make room for the newest.
const recvQueueCapacity = 16

// connectTimeout bounds the overall connectivity-check phase of Connect.
const connectTimeout = 10 * time.Second

// Conn is one established per-peer ICE connection: a receive thread
// drains the underlying socket into a bounded FIFO that RecvTimeout
// consumes from.
type Conn struct {
	peerFingerprint string
	underlying      *pionice.Conn
	agent           *pionice.Agent

	mu        sync.Mutex
	recvQueue [][]byte
	notify    chan struct{}
	closed    bool
}

func newConn(peerFingerprint string, agent *pionice.Agent, underlying *pionice.Conn) *Conn {
	c := &Conn{
		peerFingerprint: peerFingerprint,
		underlying:      underlying,
		agent:           agent,
		notify:          make(chan struct{}, 1),
	}
	go c.receiveLoop()
	return c
}

func (c *Conn) receiveLoop() {
	logger := logrus.WithFields(logrus.Fields{"function": "receiveLoop", "package": "ice", "peer": c.peerFingerprint})
	buf := make([]byte, 64*1024)
	for {
		n, err := c.underlying.Read(buf)
		if err != nil {
			return
		}
		frame := append([]byte(nil), buf[:n]...)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if len(c.recvQueue) >= recvQueueCapacity {
			logger.Warn("receive queue full, dropping oldest frame")
			c.recvQueue = c.recvQueue[1:]
		}
		c.recvQueue = append(c.recvQueue, frame)
		c.mu.Unlock()

		select {
		case c.notify <- struct{}{}:
		default:
		}
	}
}

// RecvTimeout waits up to timeout for the next inbound frame.
func (c *Conn) RecvTimeout(timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		if len(c.recvQueue) > 0 {
			frame := c.recvQueue[0]
			c.recvQueue = c.recvQueue[1:]
			c.mu.Unlock()
			return frame, nil
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return nil, fmt.Errorf("ice: connection to %s closed", c.peerFingerprint)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("ice: recv timeout waiting for %s", c.peerFingerprint)
		}
		select {
		case <-c.notify:
		case <-time.After(remaining):
		}
	}
}

// Send writes data to the peer, looping until every byte is accepted.
// Never returns a partial write.
func (c *Conn) Send(data []byte) error {
	for len(data) > 0 {
		n, err := c.underlying.Write(data)
		if err != nil {
			return fmt.Errorf("ice: send to %s: %w", c.peerFingerprint, err)
		}
		data = data[n:]
	}
	return nil
}

// FrameHandler processes one inbound envelope from a peer over an
// established ICE connection. A nil return causes Serve to write back a
// one-byte ack, mirroring the TCP listener's withhold-ack-on-failure
// contract.
type FrameHandler func(frame []byte) error

// Serve loops RecvTimeout with pollInterval, handing each inbound frame
// to handle and acking on success, until the connection is closed.
func (c *Conn) Serve(pollInterval time.Duration, handle FrameHandler) {
	for {
		frame, err := c.RecvTimeout(pollInterval)
		if err != nil {
			if c.isClosed() {
				return
			}
			continue
		}
		if err := handle(frame); err == nil {
			c.Send([]byte{1})
		}
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears down the connection: marks closed under the receive mutex,
// closes the underlying socket and agent, and unblocks any RecvTimeout
// waiters.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}

	err := c.underlying.Close()
	c.agent.Close()
	return err
}

// Connect performs one per-peer ICE connectivity establishment: fetch the
// peer's published candidates, gather a fresh local peer agent (distinct
// from Agent's persistent startup agent — ICE's Dial/Accept model is
// inherently one-agent-per-session), add the peer's remote candidates,
// and run the connectivity check. controlling decides which side drives
// ICE nomination; exactly one of the two peers in a pair must pass true.
// Callers are responsible for caching the result; Agent does not cache
// connections itself (see cache.ConnCache).
func (a *Agent) Connect(peerFingerprint string, peerSignPub sign.PublicKey, controlling bool) (*Conn, error) {
	peer, err := fetchPeerCandidates(a.client, peerFingerprint, peerSignPub)
	if err != nil {
		return nil, err
	}

	agent, err := pionice.NewAgent(&pionice.AgentConfig{
		NetworkTypes: []pionice.NetworkType{pionice.NetworkTypeUDP4, pionice.NetworkTypeUDP6},
	})
	if err != nil {
		return nil, fmt.Errorf("ice: create peer agent: %w", err)
	}

	if err := agent.GatherCandidates(); err != nil {
		agent.Close()
		return nil, fmt.Errorf("ice: gather for %s: %w", peerFingerprint, err)
	}
	for _, candidate := range peer.candidates {
		remote, err := pionice.UnmarshalCandidate(candidate)
		if err != nil {
			continue
		}
		if err := agent.AddRemoteCandidate(remote); err != nil {
			agent.Close()
			return nil, fmt.Errorf("ice: add remote candidate for %s: %w", peerFingerprint, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	var underlying *pionice.Conn
	if controlling {
		underlying, err = agent.Dial(ctx, peer.ufrag, peer.pwd)
	} else {
		underlying, err = agent.Accept(ctx, peer.ufrag, peer.pwd)
	}
	if err != nil {
		agent.Close()
		return nil, fmt.Errorf("ice: connectivity check against %s failed: %w", peerFingerprint, err)
	}

	return newConn(peerFingerprint, agent, underlying), nil
}
