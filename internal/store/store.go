// Package store defines the narrow transactional-store boundary the
// mailbox state engine depends on (spec.md §6). The engine never talks to
// a database directly — it only uses this interface — so the concrete
// backend (internal/store/sqlite, or an in-memory fake for tests) is an
// external collaborator the engine is deliberately decoupled from.
package store

import (
	"context"
	"errors"
)

// Collection identifies a document collection within an account, mirroring
// the JMAP-style collections the original store groups documents into.
type Collection uint8

const (
	CollectionMailbox Collection = iota
	CollectionEmail
)

func (c Collection) String() string {
	switch c {
	case CollectionMailbox:
		return "mailbox"
	case CollectionEmail:
		return "email"
	default:
		return "unknown"
	}
}

// Property identifies a single stored field on a document.
type Property uint8

const (
	PropertyEmailIds Property = iota
	PropertyReceivedAt
	PropertyMailboxIds
)

// AllMailID is the synthetic mailbox document id standing in for "every
// message in the account", per spec.md §6 ("for the synthetic 'all mail'
// projection, the mailbox document id is u32::MAX").
const AllMailID uint32 = 1<<32 - 1

// ErrAssertValueFailed is returned by Write when a batch's CAS precondition
// did not match the currently stored value.
var ErrAssertValueFailed = errors.New("store: assert value failed")

// ChangeKind classifies one entry of a collection's change log.
type ChangeKind uint8

const (
	ChangeInsert ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

// Change is one change-log record. ID packs a 64-bit change identifier
// whose low 32 bits are the affected document id, matching the original
// store's `unwrap_id()` convention.
type Change struct {
	Kind ChangeKind
	ID   uint64
}

// DocumentID returns the low 32 bits of the change id, i.e. the affected
// document.
func (c Change) DocumentID() uint32 {
	return uint32(c.ID)
}

// ChangeLog is the result of Store.Changes.
type ChangeLog struct {
	Changes []Change
}

// Bitmap is a set of 32-bit document ids, standing in for the roaring
// bitmaps the original store uses for tag/document-id sets. The retrieval
// pack carries no roaring-bitmap dependency, and the sets this engine
// handles are bounded by mailbox size rather than whole-collection scale,
// so a map-backed set is the appropriate (and only reasonably available)
// implementation — see DESIGN.md.
type Bitmap struct {
	ids map[uint32]struct{}
}

// NewBitmap builds a Bitmap containing the given ids.
func NewBitmap(ids ...uint32) *Bitmap {
	b := &Bitmap{ids: make(map[uint32]struct{}, len(ids))}
	for _, id := range ids {
		b.ids[id] = struct{}{}
	}
	return b
}

// Len reports the number of ids still in the set.
func (b *Bitmap) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ids)
}

// IsEmpty reports whether the set has no ids left.
func (b *Bitmap) IsEmpty() bool { return b.Len() == 0 }

// Contains reports whether id is a member of the set.
func (b *Bitmap) Contains(id uint32) bool {
	if b == nil {
		return false
	}
	_, ok := b.ids[id]
	return ok
}

// Remove removes id from the set, reporting whether it was present.
func (b *Bitmap) Remove(id uint32) bool {
	if b == nil {
		return false
	}
	if _, ok := b.ids[id]; !ok {
		return false
	}
	delete(b.ids, id)
	return true
}

// Members returns the set's ids in no particular order.
func (b *Bitmap) Members() []uint32 {
	if b == nil {
		return nil
	}
	out := make([]uint32, 0, len(b.ids))
	for id := range b.ids {
		out = append(out, id)
	}
	return out
}

// Batch describes a set of writes to apply atomically, with optional CAS
// preconditions, mirroring spec.md §6's `write(batch)`.
type Batch struct {
	AccountID  uint32
	Collection Collection
	DocumentID uint32
	// AssertProperty/AssertValue, if HasAssert is set, require the
	// stored raw bytes at that property to equal AssertValue before the
	// write is applied; otherwise Write returns ErrAssertValueFailed.
	HasAssert      bool
	AssertProperty Property
	AssertValue    []byte
	// Values are the (property -> raw bytes) writes to apply.
	Values map[Property][]byte
}

// NewBatch starts a batch for one document.
func NewBatch(accountID uint32, collection Collection, documentID uint32) *Batch {
	return &Batch{
		AccountID:  accountID,
		Collection: collection,
		DocumentID: documentID,
		Values:     make(map[Property][]byte),
	}
}

// AssertValueIs sets the batch's CAS precondition.
func (b *Batch) AssertValueIs(property Property, raw []byte) *Batch {
	b.HasAssert = true
	b.AssertProperty = property
	b.AssertValue = raw
	return b
}

// Value stages a property write.
func (b *Batch) Value(property Property, raw []byte) *Batch {
	b.Values[property] = raw
	return b
}

// IndexCallback is invoked once per (document_id, raw_value) pair during an
// ascending or descending index scan. Returning false stops the scan early
// (spec.md §6: "callback returns continue?").
type IndexCallback func(documentID uint32, raw []byte) (cont bool, err error)

// Store is the narrow transactional-store interface the engine depends on.
// All methods are context-aware since every call is a suspension point
// (spec.md §5).
type Store interface {
	// GetProperty reads a single stored property's raw bytes (for a later
	// CAS write via Batch.AssertValueIs). Returns nil if the document or
	// property is absent. Decoding the bytes into a typed value is the
	// caller's responsibility — this interface only moves bytes.
	GetProperty(ctx context.Context, accountID uint32, collection Collection, documentID uint32, property Property) ([]byte, error)

	// GetTag fetches the document id set tagged with tagValue on property,
	// e.g. the set of Email documents whose MailboxIds contains a mailbox.
	GetTag(ctx context.Context, accountID uint32, collection Collection, property Property, tagValue uint32) (*Bitmap, error)

	// GetDocumentIDs fetches every document id in a collection.
	GetDocumentIDs(ctx context.Context, accountID uint32, collection Collection) (*Bitmap, error)

	// GetLastChangeID returns the collection's current modseq, or
	// (0, false, nil) if the account has no change-log entries yet.
	GetLastChangeID(ctx context.Context, accountID uint32, collection Collection) (uint64, bool, error)

	// IndexValues iterates a secondary index in sort order, invoking cb for
	// every (document_id, raw_value) pair.
	IndexValues(ctx context.Context, accountID uint32, collection Collection, property Property, ascending bool, cb IndexCallback) error

	// Write applies a batch, failing with ErrAssertValueFailed on a CAS
	// mismatch.
	Write(ctx context.Context, batch *Batch) error

	// Changes returns change-log records since the given modseq
	// (exclusive), or every record if since is nil.
	Changes(ctx context.Context, accountID uint32, collection Collection, since *uint64) (ChangeLog, error)
}
