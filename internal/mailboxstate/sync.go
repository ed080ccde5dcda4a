package mailboxstate

import (
	"context"
)

// Reconciler is the narrow seam mailboxstate depends on to obtain a fresh
// State; internal/reconciler.Reconciler satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, mailbox MailboxID) (*State, error)
}

// ModseqSource reports the store's current modseq for the Email collection,
// used to short-circuit Synchronize when nothing has changed.
type ModseqSource interface {
	CurrentModseq(ctx context.Context, accountID uint32) (uint64, error)
}

// Synchronize implements synchronize_messages (spec.md §4.3): if the
// store's current modseq matches what this session last observed, it
// returns immediately. Otherwise it reconciles and diffs against the
// visible snapshot, staging the result without applying it.
func Synchronize(ctx context.Context, sel *Selected, modseqs ModseqSource, rec Reconciler) (*uint64, error) {
	modseq, err := modseqs.CurrentModseq(ctx, sel.ID.AccountID)
	if err != nil {
		return nil, err
	}

	sel.mu.Lock()
	unchanged := sel.state.Modseq == modseq
	sel.mu.Unlock()
	if unchanged {
		return &modseq, nil
	}

	newState, err := rec.Reconcile(ctx, sel.ID)
	if err != nil {
		return nil, err
	}

	sel.mu.Lock()
	defer sel.mu.Unlock()

	var deletions []ImapID
	if sel.next != nil {
		deletions = sel.next.deletions
	}

	idToImap := make(map[uint32]ImapID, len(sel.state.IDToImap))
	for messageID, imapID := range sel.state.IDToImap {
		if _, stillPresent := newState.UIDToID[imapID.UID]; !stillPresent {
			deletions = append(deletions, imapID)
			delete(sel.state.UIDToID, imapID.UID)
		} else {
			idToImap[messageID] = imapID
		}
	}
	sel.state.IDToImap = idToImap
	sel.state.Modseq = newState.Modseq

	sel.next = &pendingDiff{nextState: newState, deletions: deletions}

	return &modseq, nil
}
