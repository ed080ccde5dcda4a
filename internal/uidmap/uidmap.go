// Package uidmap implements the durable per-mailbox UID projection: the
// authoritative mapping from a JMAP-style store's opaque message ids to the
// stable, monotonically assigned UIDs an IMAP client relies on.
package uidmap

import "sort"

// Uid is one assigned slot in a mailbox's UID space.
type Uid struct {
	UID        uint32
	MessageID  uint32
	ReceivedAt uint32
}

// UidMap is the durable projection described in spec.md §3. It is persisted
// under collection=Mailbox, property=EmailIds, one blob per (account,
// mailbox); see internal/store for the storage boundary and
// internal/uidmap/codec.go for the wire encoding.
type UidMap struct {
	// UIDNext is the UID to assign to the next newly observed message. It
	// never decreases, even across reconciliations that shrink the mailbox.
	UIDNext uint32
	// UIDValidity is fixed at mailbox creation and never changes afterward.
	UIDValidity uint32
	// Hash is the keyed fingerprint of the (MessageID, ReceivedAt) pairs
	// currently present in Items, used to detect membership drift in O(1)
	// without re-reading the store.
	Hash uint64
	// Items is sorted by ascending UID.
	Items []Uid
}

// Validate checks the invariants of spec.md §3: ascending-sorted, unique,
// all-below-UIDNext. It is used by tests and by anything loading a map from
// an untrusted source that already passed codec-level decoding.
func (m *UidMap) Validate() error {
	seen := make(map[uint32]struct{}, len(m.Items))
	var last uint32
	for i, it := range m.Items {
		if _, dup := seen[it.UID]; dup {
			return &InvariantError{Reason: "duplicate uid", UID: it.UID}
		}
		seen[it.UID] = struct{}{}
		if it.UID >= m.UIDNext {
			return &InvariantError{Reason: "uid >= uid_next", UID: it.UID}
		}
		if i > 0 && it.UID <= last {
			return &InvariantError{Reason: "items not ascending", UID: it.UID}
		}
		last = it.UID
	}
	return nil
}

// InvariantError reports a UidMap invariant violation.
type InvariantError struct {
	Reason string
	UID    uint32
}

func (e *InvariantError) Error() string {
	return "uidmap: invariant violated: " + e.Reason
}

// UIDMax returns the largest UID currently present, or 0 for an empty map.
func (m *UidMap) UIDMax() uint32 {
	if len(m.Items) == 0 {
		return 0
	}
	return m.Items[len(m.Items)-1].UID
}

// sortItems restores ascending-by-UID order. Callers that build Items by
// appending newly assigned UIDs after filtering survivors keep the
// invariant automatically; no code outside this package's tests calls it.
func sortItems(items []Uid) {
	sort.Slice(items, func(i, j int) bool { return items[i].UID < items[j].UID })
}
