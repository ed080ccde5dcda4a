package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemory_WriteAndGetProperty(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	batch := NewBatch(1, CollectionEmail, 100).Value(PropertyReceivedAt, []byte{1, 2, 3})
	if err := m.Write(ctx, batch); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := m.GetProperty(ctx, 1, CollectionEmail, 100, PropertyReceivedAt)
	if err != nil {
		t.Fatalf("GetProperty: %v", err)
	}
	if string(got) != "\x01\x02\x03" {
		t.Errorf("GetProperty() = %v, want [1 2 3]", got)
	}
}

func TestMemory_GetProperty_MissingReturnsNil(t *testing.T) {
	m := NewMemory()
	got, err := m.GetProperty(context.Background(), 1, CollectionEmail, 1, PropertyReceivedAt)
	if err != nil {
		t.Fatalf("GetProperty: %v", err)
	}
	if got != nil {
		t.Errorf("GetProperty() for a missing key = %v, want nil", got)
	}
}

func TestMemory_Write_CASSucceedsOnMatch(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Write(ctx, NewBatch(1, CollectionMailbox, 1).Value(PropertyEmailIds, []byte("v1"))); err != nil {
		t.Fatalf("initial Write: %v", err)
	}

	batch := NewBatch(1, CollectionMailbox, 1).AssertValueIs(PropertyEmailIds, []byte("v1")).Value(PropertyEmailIds, []byte("v2"))
	if err := m.Write(ctx, batch); err != nil {
		t.Fatalf("CAS write with a matching assertion should succeed: %v", err)
	}

	got, _ := m.GetProperty(ctx, 1, CollectionMailbox, 1, PropertyEmailIds)
	if string(got) != "v2" {
		t.Errorf("GetProperty() after CAS write = %q, want v2", got)
	}
}

func TestMemory_Write_CASFailsOnMismatch(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Write(ctx, NewBatch(1, CollectionMailbox, 1).Value(PropertyEmailIds, []byte("v1"))); err != nil {
		t.Fatalf("initial Write: %v", err)
	}

	batch := NewBatch(1, CollectionMailbox, 1).AssertValueIs(PropertyEmailIds, []byte("stale")).Value(PropertyEmailIds, []byte("v2"))
	err := m.Write(ctx, batch)
	if !errors.Is(err, ErrAssertValueFailed) {
		t.Errorf("err = %v, want ErrAssertValueFailed", err)
	}

	got, _ := m.GetProperty(ctx, 1, CollectionMailbox, 1, PropertyEmailIds)
	if string(got) != "v1" {
		t.Errorf("a failed CAS write should not modify stored value, got %q", got)
	}
}

func TestMemory_SeedAndRemove(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	mailboxID := uint32(1)

	m.Seed(1, &mailboxID, map[uint32]uint32{100: 1000, 101: 1001})

	ids, err := m.GetDocumentIDs(ctx, 1, CollectionEmail)
	if err != nil {
		t.Fatalf("GetDocumentIDs: %v", err)
	}
	if ids.Len() != 2 || !ids.Contains(100) || !ids.Contains(101) {
		t.Errorf("GetDocumentIDs() = %v, want {100,101}", ids.Members())
	}

	tag, err := m.GetTag(ctx, 1, CollectionEmail, PropertyMailboxIds, mailboxID)
	if err != nil {
		t.Fatalf("GetTag: %v", err)
	}
	if tag.Len() != 2 {
		t.Errorf("GetTag() len = %d, want 2", tag.Len())
	}

	m.Remove(1, &mailboxID, 100)

	ids, _ = m.GetDocumentIDs(ctx, 1, CollectionEmail)
	if ids.Contains(100) {
		t.Error("expected document 100 to be removed")
	}
	tag, _ = m.GetTag(ctx, 1, CollectionEmail, PropertyMailboxIds, mailboxID)
	if tag.Contains(100) {
		t.Error("expected tag membership for 100 to be removed")
	}
}

func TestMemory_GetLastChangeID(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, ok, err := m.GetLastChangeID(ctx, 1, CollectionEmail); err != nil || ok {
		t.Fatalf("GetLastChangeID on an empty log: ok=%v, err=%v, want ok=false", ok, err)
	}

	m.Seed(1, nil, map[uint32]uint32{100: 1000})

	id, ok, err := m.GetLastChangeID(ctx, 1, CollectionEmail)
	if err != nil {
		t.Fatalf("GetLastChangeID: %v", err)
	}
	if !ok {
		t.Fatal("expected a change id after Seed")
	}
	if id == 0 {
		t.Error("expected a non-zero change id")
	}
}

func TestMemory_Changes_SinceFiltersOlderEntries(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Seed(1, nil, map[uint32]uint32{100: 1000})
	first, _, _ := m.GetLastChangeID(ctx, 1, CollectionEmail)

	m.Seed(1, nil, map[uint32]uint32{101: 1001})

	log, err := m.Changes(ctx, 1, CollectionEmail, &first)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(log.Changes) != 1 {
		t.Errorf("len(Changes since first) = %d, want 1", len(log.Changes))
	}

	full, err := m.Changes(ctx, 1, CollectionEmail, nil)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(full.Changes) != 2 {
		t.Errorf("len(Changes with nil since) = %d, want 2", len(full.Changes))
	}
}

func TestMemory_IndexValues_OrdersByReceivedAtNumerically(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// 100's received_at (300) spans more than one byte, which a raw
	// lexicographic byte compare on little-endian-encoded values would sort
	// out of numeric order.
	m.Seed(1, nil, map[uint32]uint32{100: 300, 101: 10, 102: 20})

	var order []uint32
	err := m.IndexValues(ctx, 1, CollectionEmail, PropertyReceivedAt, true, func(doc uint32, raw []byte) (bool, error) {
		order = append(order, doc)
		return true, nil
	})
	if err != nil {
		t.Fatalf("IndexValues: %v", err)
	}
	want := []uint32{101, 102, 100}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
}

func TestMemory_IndexValues_EarlyStop(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Seed(1, nil, map[uint32]uint32{100: 30, 101: 10, 102: 20})

	var seen []uint32
	err := m.IndexValues(ctx, 1, CollectionEmail, PropertyReceivedAt, true, func(doc uint32, raw []byte) (bool, error) {
		seen = append(seen, doc)
		return false, nil
	})
	if err != nil {
		t.Fatalf("IndexValues: %v", err)
	}
	if len(seen) != 1 {
		t.Errorf("early stop (cont=false): len(seen) = %d, want 1", len(seen))
	}
}
