// Package reconciler implements fetch_messages (spec.md §4.2): reading the
// store's current mailbox membership, comparing it against the persisted
// UidMap, and producing a reconciled MailboxState with a compare-and-swap
// write.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fenilsonani/mailstate/internal/mailboxstate"
	"github.com/fenilsonani/mailstate/internal/protocol"
	"github.com/fenilsonani/mailstate/internal/store"
	"github.com/fenilsonani/mailstate/internal/uidmap"
)

// maxCASRetries bounds the compare-and-swap retry loop of spec.md §4.2 step
// 8: "retry from step 1 up to three times; on the fourth, return
// DatabaseFailure."
const maxCASRetries = 3

// Clock supplies the current time as a uint32, used to derive uid_validity
// for a newly created mailbox (spec.md §4.2 step 5, "uid_validity = now()
// XOR mailbox_id"). Abstracted so reconciliation stays a pure function of
// its inputs for tests.
type Clock func() uint32

// Reconciler implements fetch_messages against a store.Store.
type Reconciler struct {
	Store store.Store
	Now   Clock

	group singleflight.Group
}

// New builds a Reconciler. now defaults to a wall-clock source if nil.
func New(s store.Store, now Clock) *Reconciler {
	if now == nil {
		now = defaultClock
	}
	return &Reconciler{Store: s, Now: now}
}

// CurrentModseq implements mailboxstate.ModseqSource, giving
// mailboxstate.Synchronize its short-circuit check without duplicating the
// store call the Reconciler itself makes.
func (r *Reconciler) CurrentModseq(ctx context.Context, accountID uint32) (uint64, error) {
	modseq, _, err := r.Store.GetLastChangeID(ctx, accountID, store.CollectionEmail)
	if err != nil {
		return 0, protocol.NewError(protocol.DatabaseFailure, fmt.Errorf("get modseq: %w", err))
	}
	return modseq, nil
}

// Reconcile runs fetch_messages for one mailbox, coalescing concurrent
// calls for the identical (account, mailbox) pair within this process via
// singleflight — a pure latency optimization since the result is a pure
// function of store state (see SPEC_FULL.md §4.2).
func (r *Reconciler) Reconcile(ctx context.Context, mailbox mailboxstate.MailboxID) (*mailboxstate.State, error) {
	key := fmt.Sprintf("%d:%d", mailbox.AccountID, mailbox.DocumentID())
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.reconcile(ctx, mailbox)
	})
	if err != nil {
		return nil, err
	}
	return v.(*mailboxstate.State), nil
}

func (r *Reconciler) reconcile(ctx context.Context, mailbox mailboxstate.MailboxID) (*mailboxstate.State, error) {
	for attempt := 0; ; attempt++ {
		state, retry, err := r.attempt(ctx, mailbox)
		if err == nil {
			return state, nil
		}
		if !retry || attempt >= maxCASRetries {
			return nil, err
		}
	}
}

// attempt performs one pass of spec.md §4.2 steps 1-7. retry reports
// whether the caller should re-run the whole attempt (a CAS conflict);
// otherwise err (if non-nil) is final.
func (r *Reconciler) attempt(ctx context.Context, mailbox mailboxstate.MailboxID) (*mailboxstate.State, bool, error) {
	documentID := mailbox.DocumentID()

	// Step 1: prior persisted UidMap, with raw bytes for CAS.
	rawPrior, err := r.Store.GetProperty(ctx, mailbox.AccountID, store.CollectionMailbox, documentID, store.PropertyEmailIds)
	if err != nil {
		return nil, false, protocol.NewError(protocol.DatabaseFailure, fmt.Errorf("get uid map: %w", err))
	}
	var prior *uidmap.UidMap
	if rawPrior != nil {
		prior, err = uidmap.Deserialize(rawPrior)
		if err != nil {
			// A corrupt persisted map is fatal for the open attempt; never
			// silently discarded (spec.md §7).
			return nil, false, protocol.NewError(protocol.DatabaseFailure, fmt.Errorf("corrupt uid map: %w", err))
		}
	}

	// Step 2: modseq high-water mark.
	modseq, _, err := r.Store.GetLastChangeID(ctx, mailbox.AccountID, store.CollectionEmail)
	if err != nil {
		return nil, false, protocol.NewError(protocol.DatabaseFailure, fmt.Errorf("get modseq: %w", err))
	}

	// Step 3: message id set for the mailbox.
	var ids *store.Bitmap
	if mailbox.ID != nil {
		ids, err = r.Store.GetTag(ctx, mailbox.AccountID, store.CollectionEmail, store.PropertyMailboxIds, *mailbox.ID)
	} else {
		ids, err = r.Store.GetDocumentIDs(ctx, mailbox.AccountID, store.CollectionEmail)
	}
	if err != nil {
		return nil, false, protocol.NewError(protocol.DatabaseFailure, fmt.Errorf("get message ids: %w", err))
	}

	// Step 4: scan by received_at ascending, folding a fingerprint as we go.
	pending := make(map[uint32]struct{}, ids.Len())
	for _, id := range ids.Members() {
		pending[id] = struct{}{}
	}
	remaining := len(pending)
	idList := make([]messagePair, 0, remaining)
	fp := uidmap.NewFingerprinter()

	if remaining > 0 {
		scanErr := r.Store.IndexValues(ctx, mailbox.AccountID, store.CollectionEmail, store.PropertyReceivedAt, true,
			func(documentID uint32, raw []byte) (bool, error) {
				if _, ok := pending[documentID]; !ok {
					return true, nil
				}
				receivedAt, err := decodeReceivedAt(raw)
				if err != nil {
					return false, err
				}
				idList = append(idList, messagePair{messageID: documentID, receivedAt: receivedAt})
				fp.Add(documentID, receivedAt)
				delete(pending, documentID)
				return len(pending) > 0, nil
			})
		if scanErr != nil {
			return nil, false, protocol.NewError(protocol.DatabaseFailure, fmt.Errorf("scan received_at index: %w", scanErr))
		}
	}
	fingerprint := fp.Sum()
	if remaining == 0 {
		fingerprint = 0
	}

	if prior == nil {
		// Step 5: first open.
		return r.firstOpen(ctx, mailbox, documentID, idList, fingerprint, modseq)
	}

	if prior.Hash == fingerprint {
		// Step 6: reuse verbatim.
		return stateFromMap(prior, modseq), false, nil
	}

	// Step 7: reconcile.
	return r.reconcileExisting(ctx, mailbox, documentID, rawPrior, prior, idList, fingerprint, modseq)
}

// messagePair is one scanned (message_id, received_at) observation.
type messagePair struct {
	messageID  uint32
	receivedAt uint32
}

func (r *Reconciler) firstOpen(ctx context.Context, mailbox mailboxstate.MailboxID, documentID uint32, idList []messagePair, fingerprint uint64, modseq uint64) (*mailboxstate.State, bool, error) {
	items := make([]uidmap.Uid, len(idList))
	for i, p := range idList {
		items[i] = uidmap.Uid{UID: uint32(i + 1), MessageID: p.messageID, ReceivedAt: p.receivedAt}
	}
	m := &uidmap.UidMap{
		UIDNext:     uint32(len(items)) + 1,
		UIDValidity: r.Now() ^ validityMailboxComponent(mailbox),
		Hash:        fingerprint,
		Items:       items,
	}

	batch := store.NewBatch(mailbox.AccountID, store.CollectionMailbox, documentID).
		Value(store.PropertyEmailIds, uidmap.Serialize(m))
	if err := r.Store.Write(ctx, batch); err != nil {
		return nil, false, protocol.NewError(protocol.DatabaseFailure, fmt.Errorf("store uid map: %w", err))
	}

	return stateFromMap(m, modseq), false, nil
}

func (r *Reconciler) reconcileExisting(ctx context.Context, mailbox mailboxstate.MailboxID, documentID uint32, rawPrior []byte, prior *uidmap.UidMap, idList []messagePair, fingerprint uint64, modseq uint64) (*mailboxstate.State, bool, error) {
	type key struct {
		messageID  uint32
		receivedAt uint32
	}
	fresh := make(map[key]struct{}, len(idList))
	for _, p := range idList {
		fresh[key{p.messageID, p.receivedAt}] = struct{}{}
	}

	items := make([]uidmap.Uid, 0, len(prior.Items))
	for _, it := range prior.Items {
		k := key{it.MessageID, it.ReceivedAt}
		if _, ok := fresh[k]; ok {
			items = append(items, it)
			delete(fresh, k)
		}
	}

	uidNext := prior.UIDNext
	// New pairs, in scan (received_at ascending) order, per spec.md §4.2:
	// "new UIDs are appended in the order the received_at index produced
	// them."
	for _, p := range idList {
		k := key{p.messageID, p.receivedAt}
		if _, ok := fresh[k]; !ok {
			continue
		}
		items = append(items, uidmap.Uid{UID: uidNext, MessageID: p.messageID, ReceivedAt: p.receivedAt})
		uidNext++
		delete(fresh, k)
	}

	updated := &uidmap.UidMap{
		UIDNext:     uidNext,
		UIDValidity: prior.UIDValidity,
		Hash:        fingerprint,
		Items:       items,
	}

	batch := store.NewBatch(mailbox.AccountID, store.CollectionMailbox, documentID).
		AssertValueIs(store.PropertyEmailIds, rawPrior).
		Value(store.PropertyEmailIds, uidmap.Serialize(updated))
	if err := r.Store.Write(ctx, batch); err != nil {
		if errors.Is(err, store.ErrAssertValueFailed) {
			return nil, true, protocol.NewError(protocol.DatabaseFailure, err)
		}
		return nil, false, protocol.NewError(protocol.DatabaseFailure, fmt.Errorf("store uid map: %w", err))
	}

	return stateFromMap(updated, modseq), false, nil
}

// stateFromMap derives a MailboxState from a reconciled UidMap, assigning
// dense sequence numbers by ascending uid.
func stateFromMap(m *uidmap.UidMap, modseq uint64) *mailboxstate.State {
	idToImap := make(map[uint32]mailboxstate.ImapID, len(m.Items))
	uidToID := make(map[uint32]uint32, len(m.Items))
	for i, it := range m.Items {
		idToImap[it.MessageID] = mailboxstate.ImapID{UID: it.UID, Seqnum: uint32(i + 1)}
		uidToID[it.UID] = it.MessageID
	}
	var uidMax uint32
	if len(m.Items) > 0 {
		uidMax = m.Items[len(m.Items)-1].UID
	} else {
		uidMax = saturatingSub(m.UIDNext, 1)
	}
	return &mailboxstate.State{
		UIDNext:       m.UIDNext,
		UIDValidity:   m.UIDValidity,
		UIDMax:        uidMax,
		TotalMessages: len(m.Items),
		IDToImap:      idToImap,
		UIDToID:       uidToID,
		Modseq:        modseq,
	}
}

func saturatingSub(a, b uint32) uint32 {
	if b >= a {
		return 0
	}
	return a - b
}

// validityMailboxComponent returns the mailbox id XORed into uid_validity
// for a newly created mailbox, or 0 for the synthetic "all mail" mailbox
// (spec.md §4.2 step 5).
func validityMailboxComponent(mailbox mailboxstate.MailboxID) uint32 {
	if mailbox.ID == nil {
		return 0
	}
	return *mailbox.ID
}

func decodeReceivedAt(raw []byte) (uint32, error) {
	var v uint64
	for i, b := range raw {
		if i >= 8 {
			break
		}
		v |= uint64(b) << (8 * i)
	}
	return uint32(v), nil
}

func defaultClock() uint32 {
	return uint32(time.Now().Unix())
}
