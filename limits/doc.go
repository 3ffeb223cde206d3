// Package limits centralizes the size constants shared by the DHT, queue,
// and transport layers: wire frame bounds, outbox slot capacity, and the
// chunking threshold for oversized DHT values.
//
//	if err := limits.ValidateFrame(data); err != nil {
//	    // reject before allocating a reassembly buffer
//	}
package limits
