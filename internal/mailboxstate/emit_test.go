package mailboxstate

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestWriteChanges_NoStagedDiff_WritesNothing(t *testing.T) {
	sel := newTestSelected(5, map[uint32]ImapID{}, map[uint32]uint32{})
	modseqs := &fakeModseqSource{modseq: 5} // unchanged -> Synchronize stages nothing
	rec := &fakeReconciler{}

	var buf bytes.Buffer
	modseq, err := WriteChanges(context.Background(), sel, modseqs, rec, false, &buf)
	if err != nil {
		t.Fatalf("WriteChanges: %v", err)
	}
	if *modseq != 5 {
		t.Errorf("modseq = %d, want 5", *modseq)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no wire output, got %q", buf.String())
	}
}

func TestWriteChanges_DeletionsRenderExpungeThenExists(t *testing.T) {
	sel := newTestSelected(5, map[uint32]ImapID{
		100: {UID: 1, Seqnum: 1},
		101: {UID: 2, Seqnum: 2},
	}, map[uint32]uint32{1: 100, 2: 101})
	sel.state.UIDMax = 2

	modseqs := &fakeModseqSource{modseq: 6}
	newState := &State{
		Modseq:        6,
		UIDToID:       map[uint32]uint32{1: 100},
		IDToImap:      map[uint32]ImapID{},
		TotalMessages: 1,
		UIDMax:        2,
	}
	rec := &fakeReconciler{state: newState}

	var buf bytes.Buffer
	_, err := WriteChanges(context.Background(), sel, modseqs, rec, false, &buf)
	if err != nil {
		t.Fatalf("WriteChanges: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "EXPUNGE") {
		t.Errorf("expected an EXPUNGE frame, got %q", out)
	}
	if !strings.Contains(out, "EXISTS") {
		t.Errorf("expected an EXISTS frame since a deletion occurred, got %q", out)
	}
	if strings.Index(out, "EXPUNGE") > strings.Index(out, "EXISTS") {
		t.Errorf("EXPUNGE must precede EXISTS in the same round (RFC 3501 7.4.1): %q", out)
	}

	if sel.state != newState {
		t.Error("visible state should be swapped to the staged successor after WriteChanges")
	}
}

func TestWriteChanges_QResyncUsesVanished(t *testing.T) {
	sel := newTestSelected(5, map[uint32]ImapID{
		100: {UID: 1, Seqnum: 1},
	}, map[uint32]uint32{1: 100})
	sel.state.UIDMax = 1

	modseqs := &fakeModseqSource{modseq: 6}
	newState := &State{
		Modseq:        6,
		UIDToID:       map[uint32]uint32{},
		IDToImap:      map[uint32]ImapID{},
		TotalMessages: 0,
		UIDMax:        1,
	}
	rec := &fakeReconciler{state: newState}

	var buf bytes.Buffer
	_, err := WriteChanges(context.Background(), sel, modseqs, rec, true, &buf)
	if err != nil {
		t.Fatalf("WriteChanges: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "VANISHED") {
		t.Errorf("expected a VANISHED frame under QRESYNC, got %q", out)
	}
	if strings.Contains(out, "EXPUNGE") {
		t.Errorf("QRESYNC sessions should not see EXPUNGE, got %q", out)
	}
}

func TestWriteChanges_NewMessagesWithoutDeletionsStillEmitExists(t *testing.T) {
	sel := newTestSelected(5, map[uint32]ImapID{}, map[uint32]uint32{})
	sel.state.UIDMax = 0

	modseqs := &fakeModseqSource{modseq: 6}
	newState := &State{
		Modseq:        6,
		UIDToID:       map[uint32]uint32{1: 100},
		IDToImap:      map[uint32]ImapID{100: {UID: 1, Seqnum: 1}},
		TotalMessages: 1,
		UIDMax:        1,
	}
	rec := &fakeReconciler{state: newState}

	var buf bytes.Buffer
	_, err := WriteChanges(context.Background(), sel, modseqs, rec, false, &buf)
	if err != nil {
		t.Fatalf("WriteChanges: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "EXISTS") {
		t.Errorf("a UIDMax increase with no deletions should still emit EXISTS, got %q", out)
	}
	if strings.Contains(out, "EXPUNGE") || strings.Contains(out, "VANISHED") {
		t.Errorf("no deletions occurred, expected no EXPUNGE/VANISHED, got %q", out)
	}
}
