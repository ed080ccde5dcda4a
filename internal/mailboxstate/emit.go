package mailboxstate

import (
	"context"
	"io"

	"github.com/fenilsonani/mailstate/internal/protocol"
)

// WriteChanges implements write_mailbox_changes (spec.md §4.4): it
// synchronizes, then renders the staged diff as wire frames, with all
// expunge/vanished notifications preceding the EXISTS of the same round
// (RFC 3501 §7.4.1), and finally swaps the visible snapshot for the staged
// successor.
func WriteChanges(ctx context.Context, sel *Selected, modseqs ModseqSource, rec Reconciler, isQResync bool, w io.Writer) (*uint64, error) {
	modseq, err := Synchronize(ctx, sel, modseqs, rec)
	if err != nil {
		return nil, err
	}

	sel.mu.Lock()
	next := sel.next
	sel.next = nil
	var oldUIDMax uint32
	if sel.state != nil {
		oldUIDMax = sel.state.UIDMax
	}
	sel.mu.Unlock()

	if next == nil {
		return modseq, nil
	}

	var wrote bool
	if len(next.deletions) > 0 {
		if isQResync {
			uids := make([]uint32, len(next.deletions))
			for i, d := range next.deletions {
				uids[i] = d.UID
			}
			if err := protocol.WriteVanished(w, uids); err != nil {
				return nil, err
			}
		} else {
			seqnums := make([]uint32, len(next.deletions))
			for i, d := range next.deletions {
				seqnums[i] = d.Seqnum
			}
			if err := protocol.WriteExpunge(w, seqnums); err != nil {
				return nil, err
			}
		}
		wrote = true
	}

	if wrote || saturatingSub(next.nextState.UIDMax, oldUIDMax) > 0 {
		if err := protocol.WriteExists(w, next.nextState.TotalMessages); err != nil {
			return nil, err
		}
	}

	sel.mu.Lock()
	sel.state = next.nextState
	sel.mu.Unlock()

	return modseq, nil
}
