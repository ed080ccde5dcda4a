package uidmap

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortRead is returned by Deserialize when the input ends before a
// complete value could be decoded.
var ErrShortRead = errors.New("uidmap: short read")

// ErrBadGapMarker is returned by Deserialize when a sparse-prefix gap
// marker is not followed by a UID strictly greater than the previous item.
var ErrBadGapMarker = errors.New("uidmap: gap marker not ascending")

// Serialize encodes m per spec.md §4.1: an unsigned-LEB128 item count and
// uid_next, a little-endian uid_validity and hash, then each item in
// ascending-uid order using the dense/sparse-prefix scheme. The encoding is
// exact and round-trippable: Deserialize(Serialize(m)) == m for any valid m.
func Serialize(m *UidMap) []byte {
	buf := make([]byte, 0, (len(m.Items)+2)*8)
	buf = binary.AppendUvarint(buf, uint64(len(m.Items)))
	buf = binary.AppendUvarint(buf, uint64(m.UIDNext))
	buf = binary.LittleEndian.AppendUint32(buf, m.UIDValidity)
	buf = binary.LittleEndian.AppendUint64(buf, m.Hash)

	var lastUID uint32
	for _, it := range m.Items {
		if lastUID+1 != it.UID {
			buf = append(buf, 0)
			buf = binary.AppendUvarint(buf, uint64(it.UID))
		}
		buf = binary.AppendUvarint(buf, uint64(it.MessageID)+1)
		buf = binary.LittleEndian.AppendUint32(buf, it.ReceivedAt)
		lastUID = it.UID
	}
	return buf
}

// Deserialize decodes the form Serialize produces. It never panics: a
// truncated input or an out-of-order gap marker yields a typed error
// (ErrShortRead / ErrBadGapMarker), per spec.md §7's "never silently
// discard a corrupt map" policy — the caller decides how to surface it.
func Deserialize(data []byte) (*UidMap, error) {
	n, data, err := readUvarint(data)
	if err != nil {
		return nil, fmt.Errorf("item count: %w", err)
	}
	uidNext, data, err := readUvarint(data)
	if err != nil {
		return nil, fmt.Errorf("uid_next: %w", err)
	}
	if len(data) < 4+8 {
		return nil, fmt.Errorf("header: %w", ErrShortRead)
	}
	uidValidity := binary.LittleEndian.Uint32(data[:4])
	hash := binary.LittleEndian.Uint64(data[4:12])
	data = data[12:]

	m := &UidMap{
		UIDNext:     uint32(uidNext),
		UIDValidity: uidValidity,
		Hash:        hash,
		Items:       make([]Uid, 0, n),
	}

	var nextUID uint32 = 1
	var lastUID uint32
	for i := uint64(0); i < n; i++ {
		id, rest, err := readUvarint(data)
		if err != nil {
			return nil, fmt.Errorf("item %d id: %w", i, err)
		}
		data = rest

		uid := nextUID
		if id == 0 {
			newUID, rest, err := readUvarint(data)
			if err != nil {
				return nil, fmt.Errorf("item %d gap uid: %w", i, err)
			}
			data = rest
			uid = uint32(newUID)

			id, rest, err = readUvarint(data)
			if err != nil {
				return nil, fmt.Errorf("item %d id (after gap): %w", i, err)
			}
			data = rest
		}
		if uid == 0 || (i > 0 && uid <= lastUID) {
			return nil, ErrBadGapMarker
		}
		if id == 0 {
			return nil, fmt.Errorf("item %d: zero message id after gap marker: %w", i, ErrBadGapMarker)
		}

		if len(data) < 4 {
			return nil, fmt.Errorf("item %d received_at: %w", i, ErrShortRead)
		}
		received := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]

		m.Items = append(m.Items, Uid{
			UID:        uid,
			MessageID:  uint32(id - 1),
			ReceivedAt: received,
		})
		lastUID = uid
		nextUID = uid + 1
	}

	return m, nil
}

func readUvarint(data []byte) (uint64, []byte, error) {
	v, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, nil, ErrShortRead
	}
	return v, data[n:], nil
}
