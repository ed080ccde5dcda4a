package uidmap

import "testing"

func TestFingerprint_Deterministic(t *testing.T) {
	items := []Uid{
		{MessageID: 1, ReceivedAt: 100},
		{MessageID: 2, ReceivedAt: 200},
	}
	a := Fingerprint(items)
	b := Fingerprint(items)
	if a != b {
		t.Errorf("Fingerprint is not deterministic: %d != %d", a, b)
	}
}

func TestFingerprint_DifferentMembershipDiffers(t *testing.T) {
	a := Fingerprint([]Uid{{MessageID: 1, ReceivedAt: 1}})
	b := Fingerprint([]Uid{{MessageID: 2, ReceivedAt: 1}})
	if a == b {
		t.Error("different membership produced the same fingerprint")
	}
}

func TestFingerprint_EmptySet(t *testing.T) {
	a := Fingerprint(nil)
	b := Fingerprint([]Uid{})
	if a != b {
		t.Errorf("empty sets should fingerprint identically: %d != %d", a, b)
	}
}

func TestFingerprinter_AddIncremental_MatchesBatch(t *testing.T) {
	items := []Uid{
		{MessageID: 5, ReceivedAt: 50},
		{MessageID: 6, ReceivedAt: 60},
		{MessageID: 7, ReceivedAt: 70},
	}
	batch := Fingerprint(items)

	f := NewFingerprinter()
	for _, it := range items {
		f.Add(it.MessageID, it.ReceivedAt)
	}
	incremental := f.Sum()

	if batch != incremental {
		t.Errorf("incremental Sum() = %d, want %d (from Fingerprint helper)", incremental, batch)
	}
}
