package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

type propKey struct {
	account    uint32
	collection Collection
	document   uint32
	property   Property
}

type tagKey struct {
	account    uint32
	collection Collection
	property   Property
	tagValue   uint32
}

type collectionKey struct {
	account    uint32
	collection Collection
}

// Memory is an in-process Store used by tests and by single-node
// deployments that don't need SQLite's durability. It implements the exact
// semantics spec.md §6 requires, including CAS on Write.
type Memory struct {
	mu         sync.Mutex
	properties map[propKey][]byte
	tags       map[tagKey]map[uint32]struct{}
	documents  map[collectionKey]map[uint32]struct{}
	changes    map[collectionKey][]Change
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		properties: make(map[propKey][]byte),
		tags:       make(map[tagKey]map[uint32]struct{}),
		documents:  make(map[collectionKey]map[uint32]struct{}),
		changes:    make(map[collectionKey][]Change),
	}
}

func (m *Memory) GetProperty(_ context.Context, accountID uint32, collection Collection, documentID uint32, property Property) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.properties[propKey{accountID, collection, documentID, property}]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func (m *Memory) GetTag(_ context.Context, accountID uint32, collection Collection, property Property, tagValue uint32) (*Bitmap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.tags[tagKey{accountID, collection, property, tagValue}]
	if !ok {
		return NewBitmap(), nil
	}
	ids := make([]uint32, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return NewBitmap(ids...), nil
}

func (m *Memory) GetDocumentIDs(_ context.Context, accountID uint32, collection Collection) (*Bitmap, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.documents[collectionKey{accountID, collection}]
	if !ok {
		return NewBitmap(), nil
	}
	ids := make([]uint32, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return NewBitmap(ids...), nil
}

func (m *Memory) GetLastChangeID(_ context.Context, accountID uint32, collection Collection) (uint64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.changes[collectionKey{accountID, collection}]
	if len(log) == 0 {
		return 0, false, nil
	}
	return log[len(log)-1].ID, true, nil
}

func (m *Memory) IndexValues(_ context.Context, accountID uint32, collection Collection, property Property, ascending bool, cb IndexCallback) error {
	m.mu.Lock()
	type row struct {
		doc uint32
		raw []byte
	}
	var rows []row
	for key, raw := range m.properties {
		if key.account == accountID && key.collection == collection && key.property == property {
			rows = append(rows, row{doc: key.document, raw: raw})
		}
	}
	m.mu.Unlock()

	// received_at is stored as a little-endian uint32 and must sort
	// numerically, mirroring the sqlite backend's received_at_index table
	// (an INTEGER column with a real ORDER BY); every other property sorts
	// on its raw bytes, mirroring sqlite's generic BLOB ordering.
	if property == PropertyReceivedAt {
		sort.Slice(rows, func(i, j int) bool {
			a, b := decodeReceivedAt(rows[i].raw), decodeReceivedAt(rows[j].raw)
			if ascending {
				return a < b
			}
			return a > b
		})
	} else {
		sort.Slice(rows, func(i, j int) bool {
			if ascending {
				return bytes.Compare(rows[i].raw, rows[j].raw) < 0
			}
			return bytes.Compare(rows[i].raw, rows[j].raw) > 0
		})
	}

	for _, r := range rows {
		cont, err := cb(r.doc, r.raw)
		if err != nil {
			return err
		}
		if !cont {
			break
		}
	}
	return nil
}

func (m *Memory) Write(_ context.Context, batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if batch.HasAssert {
		key := propKey{batch.AccountID, batch.Collection, batch.DocumentID, batch.AssertProperty}
		current := m.properties[key]
		if !bytes.Equal(current, batch.AssertValue) {
			return ErrAssertValueFailed
		}
	}

	for property, raw := range batch.Values {
		key := propKey{batch.AccountID, batch.Collection, batch.DocumentID, property}
		stored := make([]byte, len(raw))
		copy(stored, raw)
		m.properties[key] = stored
	}

	ck := collectionKey{batch.AccountID, batch.Collection}
	var nextID uint64 = 1
	if log := m.changes[ck]; len(log) > 0 {
		nextID = log[len(log)-1].ID>>32 + 1
	}
	m.changes[ck] = append(m.changes[ck], Change{Kind: ChangeUpdate, ID: nextID<<32 | uint64(batch.DocumentID)})

	return nil
}

func (m *Memory) Changes(_ context.Context, accountID uint32, collection Collection, since *uint64) (ChangeLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.changes[collectionKey{accountID, collection}]
	if since == nil {
		out := make([]Change, len(log))
		copy(out, log)
		return ChangeLog{Changes: out}, nil
	}
	var out []Change
	for _, c := range log {
		if c.ID > *since {
			out = append(out, c)
		}
	}
	return ChangeLog{Changes: out}, nil
}

// Seed is a test/bootstrap helper that directly populates the document-id
// set, per-document ReceivedAt index, and MailboxIds tag for a set of
// messages, and bumps the Email collection's modseq. It exists because
// spec.md treats message ingestion as an external collaborator (§1): the
// engine only ever reads these structures.
func (m *Memory) Seed(accountID uint32, mailboxID *uint32, messages map[uint32]uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ck := collectionKey{accountID, CollectionEmail}
	if m.documents[ck] == nil {
		m.documents[ck] = make(map[uint32]struct{})
	}
	var tagDoc uint32 = AllMailID
	if mailboxID != nil {
		tagDoc = *mailboxID
	}
	tk := tagKey{accountID, CollectionEmail, PropertyMailboxIds, tagDoc}
	if m.tags[tk] == nil {
		m.tags[tk] = make(map[uint32]struct{})
	}

	for messageID, receivedAt := range messages {
		m.documents[ck][messageID] = struct{}{}
		m.tags[tk][messageID] = struct{}{}

		var b [8]byte
		putUint64(b[:], uint64(receivedAt))
		m.properties[propKey{accountID, CollectionEmail, messageID, PropertyReceivedAt}] = b[:]
	}

	var nextID uint64 = 1
	if log := m.changes[ck]; len(log) > 0 {
		nextID = log[len(log)-1].ID>>32 + 1
	}
	m.changes[ck] = append(m.changes[ck], Change{Kind: ChangeInsert, ID: nextID << 32})
}

// Remove drops a message from the mailbox tag (simulating an external
// expunge/move) and bumps the Email modseq.
func (m *Memory) Remove(accountID uint32, mailboxID *uint32, messageID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tagDoc uint32 = AllMailID
	if mailboxID != nil {
		tagDoc = *mailboxID
	}
	tk := tagKey{accountID, CollectionEmail, PropertyMailboxIds, tagDoc}
	delete(m.tags[tk], messageID)
	ck := collectionKey{accountID, CollectionEmail}
	delete(m.documents[ck], messageID)

	var nextID uint64 = 1
	if log := m.changes[ck]; len(log) > 0 {
		nextID = log[len(log)-1].ID>>32 + 1
	}
	m.changes[ck] = append(m.changes[ck], Change{Kind: ChangeDelete, ID: nextID << 32})
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// decodeReceivedAt mirrors internal/reconciler's and
// internal/store/sqlite's decode: the low 32 bits of a
// little-endian-encoded stored value.
func decodeReceivedAt(raw []byte) uint32 {
	var v uint64
	for i, b := range raw {
		if i >= 8 {
			break
		}
		v |= uint64(b) << (8 * i)
	}
	return uint32(v)
}
