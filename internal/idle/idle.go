// Package idle implements the IDLE change-notification loop of spec.md
// §4.6: subscribe to the change bus, emit a continuation, then
// concurrently await client input, an idle timeout, and change
// notifications until one of DONE, timeout, or bus shutdown ends the loop.
package idle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/fenilsonani/mailstate/internal/changebus"
	"github.com/fenilsonani/mailstate/internal/mailboxstate"
	"github.com/fenilsonani/mailstate/internal/protocol"
)

// ErrClientClosed is returned when the input channel closes without a DONE
// having been observed (spec.md §4.6: "Zero bytes read ⇒ client closed;
// abort.").
var ErrClientClosed = errors.New("idle: client closed connection")

// MailboxDelta is a pre-rendered set of untagged LIST/STATUS frames
// describing added/deleted/changed mailbox names. Rendering the frames
// themselves is the hierarchy-naming component's job (out of scope, §1);
// this package only writes whatever bytes it is handed.
type MailboxDelta struct {
	Frames [][]byte
}

// MailboxRefresher recovers the mailbox-hierarchy refresh branch the
// original IDLE loop drives alongside the email-set refresh (see
// SPEC_FULL.md §4.6). The no-op implementation below is this module's
// default; a real one belongs to the hierarchy-naming component.
type MailboxRefresher interface {
	RefreshMailboxes(ctx context.Context, accountID uint32) (*MailboxDelta, error)
}

// NoopRefresher implements MailboxRefresher with no effect, since mailbox
// hierarchy naming is out of scope for this module (spec.md §1).
type NoopRefresher struct{}

func (NoopRefresher) RefreshMailboxes(context.Context, uint32) (*MailboxDelta, error) {
	return nil, nil
}

// Config bundles the loop's collaborators.
type Config struct {
	Bus        changebus.Bus
	Modseqs    mailboxstate.ModseqSource
	Reconciler mailboxstate.Reconciler
	Refresher  MailboxRefresher
	Timeout    time.Duration
	IsQResync  bool
}

// Loop runs one IDLE session to completion. sel is nil when no mailbox is
// selected (authenticated state); input delivers successive chunks read
// from the client socket, closing when the client disconnects.
func Loop(ctx context.Context, cfg Config, accountID uint32, sel *mailboxstate.Selected, input <-chan []byte, w io.Writer, tag string) error {
	types := changebus.AuthenticatedTypes
	if sel != nil {
		types = changebus.SelectedTypes
	}

	sub, err := cfg.Bus.Subscribe(ctx, accountID, types)
	if err != nil {
		return protocol.NewError(protocol.DatabaseFailure, err)
	}
	defer sub.Close()

	if err := protocol.WriteIdleContinuation(w); err != nil {
		return err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var buf bytes.Buffer

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-input:
			if !ok {
				return ErrClientClosed
			}
			buf.Write(chunk)
			if containsDone(buf.Bytes()) {
				return protocol.WriteIdleCompleted(w, tag)
			}

		case <-timer.C:
			_ = protocol.WriteIdleTimedOut(w)
			return protocol.NewError(protocol.IdleTimeout, nil)

		case event, ok := <-sub.Events():
			if !ok {
				_ = protocol.WriteShuttingDown(w)
				return protocol.NewError(protocol.ProtocolDesync, nil)
			}
			if err := handleEvent(ctx, cfg, accountID, sel, event, w); err != nil {
				return err
			}
		}
	}
}

func handleEvent(ctx context.Context, cfg Config, accountID uint32, sel *mailboxstate.Selected, event changebus.Event, w io.Writer) error {
	var emailChanged, mailboxChanged bool
	for _, c := range event.Changes {
		switch c.Type {
		case changebus.TypeEmail, changebus.TypeEmailDelivery:
			emailChanged = true
		case changebus.TypeMailbox:
			mailboxChanged = true
		}
	}

	if emailChanged && sel != nil {
		if _, err := mailboxstate.WriteChanges(ctx, sel, cfg.Modseqs, cfg.Reconciler, cfg.IsQResync, w); err != nil {
			return err
		}
	}

	if mailboxChanged && cfg.Refresher != nil {
		delta, err := cfg.Refresher.RefreshMailboxes(ctx, accountID)
		if err != nil {
			return protocol.NewError(protocol.DatabaseFailure, err)
		}
		for _, frame := range delta.framesOrEmpty() {
			if _, err := w.Write(frame); err != nil {
				return err
			}
		}
	}

	return nil
}

func (d *MailboxDelta) framesOrEmpty() [][]byte {
	if d == nil {
		return nil
	}
	return d.Frames
}

// containsDone reports whether "DONE" appears as a contiguous 4-byte
// window anywhere in buf (spec.md §4.6).
func containsDone(buf []byte) bool {
	return bytes.Contains(buf, []byte("DONE"))
}
