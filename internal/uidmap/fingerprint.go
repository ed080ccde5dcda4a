package uidmap

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// fingerprintKey is the fixed 32-byte key folded from spec.md's "four fixed
// 64-bit seeds" (design notes, §9 "Hasher seed"). It must stay constant
// within a deployment so that two processes fingerprinting identical
// membership converge on the same hash — this is what lets concurrent
// reconcilers (spec.md §4.2 step 8, S4) agree without coordination.
var fingerprintKey = func() [32]byte {
	var key [32]byte
	seeds := [4]uint64{
		0xaf1f2242106c64b3,
		0x60ca4cfb4b3ed0ce,
		0xc7dbc0bb615e82b3,
		0x520ad065378daf88,
	}
	for i, seed := range seeds {
		binary.LittleEndian.PutUint64(key[i*8:i*8+8], seed)
	}
	return key
}()

// Fingerprinter folds (message_id, received_at) pairs into a single 64-bit
// drift-detection hash, per spec.md §4.2 step 4. It is not safe for
// concurrent use — one Fingerprinter is scoped to a single reconciliation
// scan.
type Fingerprinter struct {
	h   *blake3.Hasher
	buf [8]byte
}

// NewFingerprinter creates a Fingerprinter seeded with the deployment's
// fixed key.
func NewFingerprinter() *Fingerprinter {
	h, err := blake3.NewKeyed(fingerprintKey[:])
	if err != nil {
		// NewKeyed only fails for a wrong-length key, which fingerprintKey
		// can never produce.
		panic(err)
	}
	return &Fingerprinter{h: h}
}

// Add folds one (message_id, received_at) pair into the running hash.
func (f *Fingerprinter) Add(messageID, receivedAt uint32) {
	binary.LittleEndian.PutUint32(f.buf[0:4], messageID)
	binary.LittleEndian.PutUint32(f.buf[4:8], receivedAt)
	_, _ = f.h.Write(f.buf[:])
}

// Sum returns the folded fingerprint as a 64-bit value.
func (f *Fingerprinter) Sum() uint64 {
	var out [8]byte
	_, _ = f.h.Digest().Read(out[:])
	return binary.LittleEndian.Uint64(out[:])
}

// Fingerprint computes the fingerprint of a full set of (message_id,
// received_at) pairs in one call. The reconciler folds pairs incrementally
// with NewFingerprinter instead; this helper is used by tests.
func Fingerprint(items []Uid) uint64 {
	f := NewFingerprinter()
	for _, it := range items {
		f.Add(it.MessageID, it.ReceivedAt)
	}
	return f.Sum()
}
