package message

import (
	"errors"
	"sync"
	"time"

	"github.com/dnamessenger/core/crypto"
	"github.com/sirupsen/logrus"
)

// ErrEmptyText indicates an attempt to send a zero-length message body.
var ErrEmptyText = errors.New("message: text cannot be empty")

// State is the delivery state of an outbound message.
type State uint8

const (
	StatePending State = iota
	StateSending
	StateSent
	StateDelivered
	StateFailed
)

// DeliveryCallback is invoked when an outbound message's state changes.
type DeliveryCallback func(msg *Outbound, state State)

// Sender delivers an already-encoded envelope to recipientFingerprint,
// returning an error if every transport tier fails.
type Sender interface {
	Send(recipientFingerprint string, envelope []byte) error
}

// TimeProvider abstracts time for deterministic retry-interval testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type defaultTimeProvider struct{}

func (defaultTimeProvider) Now() time.Time                  { return time.Now() }
func (defaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Outbound tracks one message's delivery lifecycle after encoding.
type Outbound struct {
	ID                   uint64
	RecipientFingerprint string
	Envelope             []byte
	State                State
	Retries              uint8
	LastAttempt          time.Time

	mu       sync.Mutex
	callback DeliveryCallback
}

// OnStateChange installs a callback invoked whenever SetState changes this
// message's delivery state.
func (o *Outbound) OnStateChange(cb DeliveryCallback) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callback = cb
}

func (o *Outbound) setState(state State) {
	o.mu.Lock()
	o.State = state
	cb := o.callback
	o.mu.Unlock()
	if cb != nil {
		cb(o, state)
	}
}

// Manager tracks outbound messages and retries delivery through a Sender
// until maxRetries is exhausted.
type Manager struct {
	mu            sync.Mutex
	messages      map[uint64]*Outbound
	nextID        uint64
	pending       []*Outbound
	maxRetries    uint8
	retryInterval time.Duration
	sender        Sender
	timeProvider  TimeProvider
}

// NewManager creates a manager that delivers through sender.
func NewManager(sender Sender) *Manager {
	return &Manager{
		messages:      make(map[uint64]*Outbound),
		nextID:        1,
		maxRetries:    5,
		retryInterval: 30 * time.Second,
		sender:        sender,
		timeProvider:  defaultTimeProvider{},
	}
}

// SetTimeProvider overrides the manager's clock for deterministic tests.
func (m *Manager) SetTimeProvider(tp TimeProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeProvider = tp
}

// Enqueue registers envelope for delivery to recipientFingerprint and
// immediately attempts delivery.
func (m *Manager) Enqueue(recipientFingerprint string, envelope []byte) (*Outbound, error) {
	if len(envelope) == 0 {
		return nil, ErrEmptyText
	}

	m.mu.Lock()
	msg := &Outbound{
		ID:                   m.nextID,
		RecipientFingerprint: recipientFingerprint,
		Envelope:             envelope,
		State:                StatePending,
	}
	m.nextID++
	m.messages[msg.ID] = msg
	m.pending = append(m.pending, msg)
	m.mu.Unlock()

	go m.attempt(msg)
	return msg, nil
}

// ProcessPending retries every message still eligible for a retry
// attempt and drops terminal ones from the pending queue.
func (m *Manager) ProcessPending() {
	m.mu.Lock()
	pending := append([]*Outbound(nil), m.pending...)
	m.mu.Unlock()

	for _, msg := range pending {
		if m.eligibleForRetry(msg) {
			m.attempt(msg)
		}
	}

	m.mu.Lock()
	remaining := m.pending[:0]
	for _, msg := range m.pending {
		if m.shouldKeep(msg) {
			remaining = append(remaining, msg)
		}
	}
	m.pending = remaining
	m.mu.Unlock()
}

func (m *Manager) eligibleForRetry(msg *Outbound) bool {
	msg.mu.Lock()
	defer msg.mu.Unlock()
	if msg.State != StatePending {
		return false
	}
	if !msg.LastAttempt.IsZero() && m.timeProvider.Since(msg.LastAttempt) < m.retryInterval {
		return false
	}
	return true
}

func (m *Manager) shouldKeep(msg *Outbound) bool {
	msg.mu.Lock()
	defer msg.mu.Unlock()
	switch msg.State {
	case StatePending, StateSending:
		return true
	case StateFailed:
		if msg.Retries < m.maxRetries {
			msg.State = StatePending
			return true
		}
		return false
	default:
		return false
	}
}

func (m *Manager) attempt(msg *Outbound) {
	logger := logrus.WithFields(logrus.Fields{"function": "attempt", "package": "message", "recipient": msg.RecipientFingerprint})

	msg.mu.Lock()
	msg.State = StateSending
	msg.LastAttempt = m.timeProvider.Now()
	msg.Retries++
	msg.mu.Unlock()

	if err := m.sender.Send(msg.RecipientFingerprint, msg.Envelope); err != nil {
		logger.WithError(err).Warn("delivery attempt failed")
		if msg.Retries >= m.maxRetries {
			msg.setState(StateFailed)
		} else {
			msg.setState(StatePending)
		}
		return
	}
	msg.setState(StateSent)
}

// MarkDelivered records recipient acknowledgment for messageID.
func (m *Manager) MarkDelivered(messageID uint64) {
	m.mu.Lock()
	msg, ok := m.messages[messageID]
	m.mu.Unlock()
	if ok {
		msg.setState(StateDelivered)
	}
}

// MarkDeliveredByEnvelopeHash records delivery acknowledgment for
// whichever tracked message's envelope hashes to hash. Used when the
// acknowledgment identifies the envelope itself rather than a local
// message ID, as when it arrives from a remote peer.
func (m *Manager) MarkDeliveredByEnvelopeHash(hash [64]byte) {
	m.mu.Lock()
	var found *Outbound
	for _, msg := range m.messages {
		if crypto.SHA3_512(msg.Envelope) == hash {
			found = msg
			break
		}
	}
	m.mu.Unlock()
	if found != nil {
		found.setState(StateDelivered)
	}
}
