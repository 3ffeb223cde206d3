package transport

import "net"

// FrameHandler processes one inbound envelope from a peer reachable at
// addr. A nil return causes the receive loop to write back a one-byte
// ACK, matching the direct-TCP and ICE send tiers' await-ACK contract; a
// non-nil return (signature failure, decrypt failure, buffer too small)
// withholds the ACK so the sender's tier times out and falls through to
// the next one instead of believing delivery succeeded.
type FrameHandler func(frame []byte, addr net.Addr) error
