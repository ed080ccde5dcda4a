package uidmap

import (
	"reflect"
	"testing"
)

func TestSerializeDeserialize_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		m    *UidMap
	}{
		{
			name: "empty",
			m:    &UidMap{UIDNext: 1, UIDValidity: 100, Hash: 0},
		},
		{
			name: "dense",
			m: &UidMap{
				UIDNext:     4,
				UIDValidity: 1000,
				Hash:        0xdeadbeef,
				Items: []Uid{
					{UID: 1, MessageID: 10, ReceivedAt: 111},
					{UID: 2, MessageID: 11, ReceivedAt: 222},
					{UID: 3, MessageID: 12, ReceivedAt: 333},
				},
			},
		},
		{
			name: "sparse gaps",
			m: &UidMap{
				UIDNext:     101,
				UIDValidity: 5,
				Hash:        42,
				Items: []Uid{
					{UID: 1, MessageID: 0, ReceivedAt: 1},
					{UID: 50, MessageID: 1, ReceivedAt: 2},
					{UID: 100, MessageID: 2, ReceivedAt: 3},
				},
			},
		},
		{
			name: "message id zero",
			m: &UidMap{
				UIDNext: 2,
				Items:   []Uid{{UID: 1, MessageID: 0, ReceivedAt: 7}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Serialize(tt.m)
			decoded, err := Deserialize(encoded)
			if err != nil {
				t.Fatalf("Deserialize: %v", err)
			}
			if decoded.UIDNext != tt.m.UIDNext {
				t.Errorf("UIDNext = %d, want %d", decoded.UIDNext, tt.m.UIDNext)
			}
			if decoded.UIDValidity != tt.m.UIDValidity {
				t.Errorf("UIDValidity = %d, want %d", decoded.UIDValidity, tt.m.UIDValidity)
			}
			if decoded.Hash != tt.m.Hash {
				t.Errorf("Hash = %d, want %d", decoded.Hash, tt.m.Hash)
			}
			wantItems := tt.m.Items
			if wantItems == nil {
				wantItems = []Uid{}
			}
			if len(decoded.Items) != len(wantItems) {
				t.Fatalf("len(Items) = %d, want %d", len(decoded.Items), len(wantItems))
			}
			for i := range wantItems {
				if !reflect.DeepEqual(decoded.Items[i], wantItems[i]) {
					t.Errorf("Items[%d] = %+v, want %+v", i, decoded.Items[i], wantItems[i])
				}
			}
		})
	}
}

func TestDeserialize_ShortRead(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty input", nil},
		{"truncated after count", []byte{1}},
		{"truncated header", append(binaryUvarint(1), binaryUvarint(1)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Deserialize(tt.data); err == nil {
				t.Fatal("expected an error for truncated input")
			}
		})
	}
}

func TestDeserialize_BadGapMarker(t *testing.T) {
	// Hand-build a 2-item buffer whose second item's gap-marker UID (3)
	// does not exceed the first item's UID (5) — a regression that
	// Deserialize must reject rather than silently accept.
	buf := binaryUvarint(2) // item count
	buf = append(buf, binaryUvarint(10)...)            // uid_next
	buf = append(buf, 0, 0, 0, 0)                      // uid_validity
	buf = append(buf, 0, 0, 0, 0, 0, 0, 0, 0)           // hash
	buf = append(buf, 0)                                // gap marker
	buf = append(buf, binaryUvarint(5)...)               // item 1 uid
	buf = append(buf, binaryUvarint(2)...)               // item 1 message_id+1
	buf = append(buf, 0, 0, 0, 0)                        // item 1 received_at
	buf = append(buf, 0)                                 // gap marker
	buf = append(buf, binaryUvarint(3)...)               // item 2 uid (regresses)
	buf = append(buf, binaryUvarint(2)...)               // item 2 message_id+1
	buf = append(buf, 0, 0, 0, 0)                        // item 2 received_at

	_, err := Deserialize(buf)
	if err == nil {
		t.Fatal("expected ErrBadGapMarker for a regressing gap marker")
	}
}

func binaryUvarint(v uint64) []byte {
	buf := make([]byte, 0, 10)
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}
