package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// writeDeadline bounds how long a single frame write may block.
const writeDeadline = 5 * time.Second

// Listener is the single persistent TCP listener bound at startup. Each
// accepted connection gets its own receive goroutine that reads
// length-prefixed frames and passes them to handle.
type Listener struct {
	listener net.Listener
	handle   FrameHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Listen binds addr and starts accepting connections in the background.
func Listen(addr string, handle FrameHandler) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{listener: ln, handle: handle, ctx: ctx, cancel: cancel}

	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops accepting new connections and waits for in-flight receive
// goroutines to exit.
func (l *Listener) Close() error {
	l.cancel()
	err := l.listener.Close()
	l.wg.Wait()
	return err
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	logger := logrus.WithFields(logrus.Fields{"function": "acceptLoop", "package": "transport"})

	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.ctx.Done():
				return
			default:
				logger.WithError(err).Warn("accept failed")
				continue
			}
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.receiveLoop(conn)
		}()
	}
}

func (l *Listener) receiveLoop(conn net.Conn) {
	defer conn.Close()
	logger := logrus.WithFields(logrus.Fields{"function": "receiveLoop", "package": "transport", "peer": conn.RemoteAddr().String()})

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-l.ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		frame, err := ReadFrame(conn)
		if err != nil {
			logger.WithError(err).Debug("connection closed")
			return
		}

		if err := l.handle(frame, conn.RemoteAddr()); err != nil {
			logger.WithError(err).Warn("frame rejected, withholding ack")
			continue
		}
		if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			return
		}
		if _, err := conn.Write([]byte{1}); err != nil {
			logger.WithError(err).Debug("ack write failed")
			return
		}
	}
}

// PersistentConn is one cached outgoing TCP connection to a peer, kept
// open across sends rather than redialed each time. Satisfies
// cache.WireConn.
type PersistentConn struct {
	conn       net.Conn
	ackTimeout time.Duration
}

// DialPersistent opens a TCP connection to addr to be held in a
// connection cache across multiple sends.
func DialPersistent(addr string, ackTimeout time.Duration) (*PersistentConn, error) {
	conn, err := net.DialTimeout("tcp", addr, writeDeadline)
	if err != nil {
		return nil, err
	}
	return &PersistentConn{conn: conn, ackTimeout: ackTimeout}, nil
}

// Send writes one framed envelope and waits for a single-byte ACK.
func (p *PersistentConn) Send(envelope []byte) error {
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return err
	}
	if err := WriteFrame(p.conn, envelope); err != nil {
		return err
	}

	if err := p.conn.SetReadDeadline(time.Now().Add(p.ackTimeout)); err != nil {
		return err
	}
	ack := make([]byte, 1)
	_, err := p.conn.Read(ack)
	return err
}

// Close closes the underlying TCP connection.
func (p *PersistentConn) Close() error {
	return p.conn.Close()
}
