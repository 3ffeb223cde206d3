package ice

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloudflare/circl/sign"
	pionice "github.com/pion/ice/v2"
	"github.com/dnamessenger/core/crypto"
	"github.com/dnamessenger/core/dht"
	"github.com/sirupsen/logrus"
)

// gatherTimeout bounds a single STUN server's candidate-gathering attempt.
const gatherTimeout = 5 * time.Second

// candidateTTL is how long a published candidate set is trusted before a
// peer must re-fetch it.
const candidateTTL = dht.TTLSevenDay

// DefaultSTUNServers are tried in order at startup; the first that yields
// candidates wins.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun.cloudflare.com:3478",
}

// TURNConfig names an optional TURN relay server added to every gather
// attempt, for peers behind a symmetric NAT that STUN alone can't
// traverse. The relay candidate it contributes is tried like any other
// candidate during connectivity checks; nothing special happens if it's
// never selected.
type TURNConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (t TURNConfig) url() *pionice.URL {
	return &pionice.URL{
		Scheme:   pionice.SchemeTypeTURN,
		Host:     t.Host,
		Port:     t.Port,
		Username: t.Username,
		Password: t.Password,
		Proto:    pionice.ProtoTypeUDP,
	}
}

func candidateKey(fingerprint string) []byte {
	sum := crypto.SHA3_512([]byte(fingerprint + ":ice_candidates"))
	return sum[:]
}

// Agent is the one persistent ICE agent created at process startup. Its
// local ufrag/pwd and gathered candidates are published once and kept
// alive for the process's lifetime; every per-peer Connect call reuses it.
type Agent struct {
	client          *dht.Client
	selfFingerprint string
	signer          *crypto.SignKeyPair

	underlying *pionice.Agent
	ready      bool
}

// NewAgent opens a UDP socket, gathers local candidates against
// DefaultSTUNServers in order (first success wins), publishes the
// ufrag/pwd/candidate set to the DHT signed by signer, and marks the
// agent ready only once publication succeeds. turnRelays, if non-empty,
// is added to every gather attempt so symmetric-NAT peers still get a
// relay candidate alongside whatever STUN server succeeds.
func NewAgent(client *dht.Client, selfFingerprint string, signer *crypto.SignKeyPair, turnRelays ...TURNConfig) (*Agent, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "NewAgent", "package": "ice"})

	a := &Agent{client: client, selfFingerprint: selfFingerprint, signer: signer}

	var lastErr error
	for _, server := range DefaultSTUNServers {
		underlying, candidates, err := gatherWith(server, turnRelays)
		if err != nil {
			lastErr = err
			continue
		}
		if len(candidates) == 0 {
			underlying.Close()
			continue
		}
		a.underlying = underlying
		if err := a.publish(candidates); err != nil {
			underlying.Close()
			return nil, err
		}
		a.ready = true
		logger.WithFields(logrus.Fields{"server": server, "candidates": len(candidates)}).Info("ice agent ready")
		return a, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no stun server produced candidates")
	}
	return nil, fmt.Errorf("ice: gather candidates: %w", lastErr)
}

// Ready reports whether this agent successfully published candidates and
// may be used for per-peer connections.
func (a *Agent) Ready() bool {
	return a.ready
}

// Close tears down the underlying ICE agent.
func (a *Agent) Close() error {
	if a.underlying == nil {
		return nil
	}
	return a.underlying.Close()
}

func (a *Agent) publish(candidates []string) error {
	ufrag, pwd, err := a.underlying.GetLocalUserCredentials()
	if err != nil {
		return fmt.Errorf("ice: read local credentials: %w", err)
	}
	lines := append([]string{ufrag + ":" + pwd}, candidates...)
	blob := []byte(strings.Join(lines, "\n"))

	seq, _ := a.client.CurrentSeq(candidateKey(a.selfFingerprint), 1)
	if err := a.client.PutSigned(candidateKey(a.selfFingerprint), blob, 1, seq+1, candidateTTL, a.signer); err != nil {
		return fmt.Errorf("ice: publish candidates: %w", err)
	}
	return nil
}

// gatherWith opens a fresh pion/ice agent against one STUN server plus
// any configured TURN relays, and blocks up to gatherTimeout for
// candidates to arrive.
func gatherWith(stunServer string, turnRelays []TURNConfig) (*pionice.Agent, []string, error) {
	stunURL, err := pionice.ParseURL(stunServer)
	if err != nil {
		return nil, nil, err
	}

	urls := []*pionice.URL{stunURL}
	for _, relay := range turnRelays {
		urls = append(urls, relay.url())
	}

	underlying, err := pionice.NewAgent(&pionice.AgentConfig{
		Urls:         urls,
		NetworkTypes: []pionice.NetworkType{pionice.NetworkTypeUDP4, pionice.NetworkTypeUDP6},
	})
	if err != nil {
		return nil, nil, err
	}

	done := make(chan struct{})
	var candidates []string
	if err := underlying.OnCandidate(func(c pionice.Candidate) {
		if c == nil {
			close(done)
			return
		}
		candidates = append(candidates, c.Marshal())
	}); err != nil {
		underlying.Close()
		return nil, nil, err
	}

	if err := underlying.GatherCandidates(); err != nil {
		underlying.Close()
		return nil, nil, err
	}

	select {
	case <-done:
	case <-time.After(gatherTimeout):
	}
	return underlying, candidates, nil
}

// peerCredentials is one peer's published ufrag/pwd and raw SDP candidate
// lines, as fetched via fetchPeerCandidates.
type peerCredentials struct {
	ufrag      string
	pwd        string
	candidates []string
}

// fetchPeerCandidates reads and verifies a peer's most recently published
// candidate set from the DHT.
func fetchPeerCandidates(client *dht.Client, peerFingerprint string, peerSignPub sign.PublicKey) (peerCredentials, error) {
	raw, found, err := client.GetSigned(candidateKey(peerFingerprint), peerSignPub)
	if err != nil {
		return peerCredentials{}, fmt.Errorf("ice: verify peer candidates: %w", err)
	}
	if !found {
		return peerCredentials{}, fmt.Errorf("ice: no candidates published for %s", peerFingerprint)
	}

	lines := strings.Split(string(raw), "\n")
	if len(lines) < 1 {
		return peerCredentials{}, fmt.Errorf("ice: empty candidate blob for %s", peerFingerprint)
	}
	cred := strings.SplitN(lines[0], ":", 2)
	if len(cred) != 2 {
		return peerCredentials{}, fmt.Errorf("ice: malformed credential line for %s", peerFingerprint)
	}
	return peerCredentials{ufrag: cred[0], pwd: cred[1], candidates: lines[1:]}, nil
}
