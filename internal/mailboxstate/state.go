// Package mailboxstate implements the per-session in-memory projection of a
// reconciled mailbox (spec.md §3's MailboxState/SelectedMailbox), the
// synchronizer/differ that keeps it current (§4.3), and the change emitter
// that renders a diff as IMAP wire frames (§4.4).
package mailboxstate

import "sync"

// AllMailID is the synthetic mailbox document id standing in for "every
// message in the account" (original_source's u32::MAX sentinel).
const AllMailID uint32 = 1<<32 - 1

// MailboxID addresses one mailbox within an account. ID == nil denotes the
// synthetic "all mail" projection.
type MailboxID struct {
	AccountID uint32
	ID        *uint32
}

// DocumentID returns the store-facing document id, folding the "all mail"
// case to AllMailID.
func (m MailboxID) DocumentID() uint32 {
	if m.ID == nil {
		return AllMailID
	}
	return *m.ID
}

// ImapID is a message's dual IMAP coordinate.
type ImapID struct {
	UID    uint32
	Seqnum uint32
}

// State is the in-memory snapshot described by spec.md §3.
type State struct {
	UIDNext       uint32
	UIDValidity   uint32
	UIDMax        uint32
	TotalMessages int
	IDToImap      map[uint32]ImapID
	UIDToID       map[uint32]uint32
	Modseq        uint64
}

// saturatingSub matches the original source's u32::saturating_sub: floors at
// zero instead of wrapping, made explicit rather than relying on Go's
// wraparound unsigned subtraction (spec.md §9 Open Question).
func saturatingSub(a, b uint32) uint32 {
	if b >= a {
		return 0
	}
	return a - b
}

// pendingDiff is the staged successor snapshot produced by Synchronize but
// not yet applied to the visible state (spec.md §3's next_state).
type pendingDiff struct {
	nextState *State
	deletions []ImapID
}

// Selected is a session handle over one selected mailbox: a mutex-guarded
// State, a staged pendingDiff, and a lazily populated saved-search slot
// (spec.md's SelectedMailbox).
type Selected struct {
	ID MailboxID

	mu         sync.Mutex
	state      *State
	next       *pendingDiff
	savedSearch []ImapID
	hasSaved   bool
}

// NewSelected wraps a freshly reconciled State as a session's selected
// mailbox.
func NewSelected(id MailboxID, state *State) *Selected {
	return &Selected{ID: id, state: state}
}

// Snapshot returns the currently visible state, read under lock. The
// returned *State is shared, not copied: callers must not mutate it or its
// maps.
func (s *Selected) Snapshot() *State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetSavedSearch records the result of the last SEARCH with "$" semantics.
func (s *Selected) SetSavedSearch(ids []ImapID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedSearch = ids
	s.hasSaved = true
}

// SavedSearch returns the session's saved search list, if one exists.
func (s *Selected) SavedSearch() ([]ImapID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasSaved {
		return nil, false
	}
	out := make([]ImapID, len(s.savedSearch))
	copy(out, s.savedSearch)
	return out, true
}
