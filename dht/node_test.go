package dht

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFingerprint(fill byte) string {
	return strings.Repeat(string("0123456789abcdef"[fill]), 128)
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time                  { return c.now }
func (c *fixedClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }

func TestNodeIDFromFingerprintRejectsBadLength(t *testing.T) {
	_, err := NodeIDFromFingerprint("not-hex-and-too-short")
	assert.Error(t, err)
}

func TestNodeIDRoundTripsThroughString(t *testing.T) {
	fp := validFingerprint(3)
	id, err := NodeIDFromFingerprint(fp)
	require.NoError(t, err)
	assert.Equal(t, fp, id.String())
}

func TestNewNodeUsesCustomTimeProvider(t *testing.T) {
	clock := &fixedClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	n, err := NewNodeWithTimeProvider(validFingerprint(1), &net.TCPAddr{}, clock)
	require.NoError(t, err)
	assert.Equal(t, clock.now, n.LastSeen)
}

func TestDistanceIsZeroForSameNode(t *testing.T) {
	fp := validFingerprint(5)
	a, err := NewNode(fp, &net.TCPAddr{})
	require.NoError(t, err)
	b, err := NewNode(fp, &net.TCPAddr{})
	require.NoError(t, err)

	dist := a.Distance(b)
	assert.Equal(t, NodeID{}, dist)
}

func TestRecordPingResponseTracksReliability(t *testing.T) {
	n, err := NewNode(validFingerprint(2), &net.TCPAddr{})
	require.NoError(t, err)

	n.RecordPingSent()
	n.RecordPingResponse(true)
	n.RecordPingSent()
	n.RecordPingResponse(true)

	assert.Equal(t, StatusGood, n.Status)
	assert.Equal(t, 1.0, n.GetReliability())
}

func TestRecordPingResponseMarksBadAfterMoreFailuresThanSuccesses(t *testing.T) {
	n, err := NewNode(validFingerprint(4), &net.TCPAddr{})
	require.NoError(t, err)

	n.RecordPingResponse(true)
	n.RecordPingResponse(false)
	n.RecordPingResponse(false)

	assert.Equal(t, StatusBad, n.Status)
}

func TestGetReliabilityIsZeroWithoutPings(t *testing.T) {
	n, err := NewNode(validFingerprint(6), &net.TCPAddr{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, n.GetReliability())
}
