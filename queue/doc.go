// Package queue implements the offline message queue: each identity owns
// exactly one DHT outbox, keyed by its own fingerprint and written only by
// itself, holding signed, length-prefixed envelopes addressed to various
// recipients. Recipients poll their contacts' outboxes in parallel and
// keep only the envelopes addressed to themselves.
package queue
