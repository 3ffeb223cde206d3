// Package dnamessenger implements the core of DNA Messenger: a
// peer-to-peer, end-to-end encrypted, post-quantum messaging system with
// no central server.
//
// A Node owns one identity's key material, its view of the shared DHT,
// its contacts and groups, and the transport stack that moves envelopes
// to peers: direct TCP first, ICE-negotiated peer-to-peer second, and an
// offline DHT-backed outbox last. Every other package in this module
// (crypto, identity, dht, keyserver, group, message, queue, transport,
// ice, cache, config, localstore) is a component Node wires together;
// several build directly on others (group and queue on dht, transport on
// queue and ice, localstore on group and identity).
//
// Example:
//
//	cfg := config.DefaultConfig()
//	node, err := dnamessenger.Open(cfg, []byte("my passphrase"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	node.OnMessage(func(senderFingerprint string, groupID uuid.UUID, plaintext []byte) {
//	    fmt.Printf("%s: %s\n", senderFingerprint, plaintext)
//	})
//
//	node.Start()
//	err = node.SendText(recipientFingerprint, "hello")
package dnamessenger
