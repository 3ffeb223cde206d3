// Package message implements the signed, end-to-end encrypted wire
// envelope used for both direct and group messages, plus the
// send-state tracking and retry queue built on top of it.
package message
