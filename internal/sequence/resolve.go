package sequence

import (
	"sort"

	"github.com/fenilsonani/mailstate/internal/mailboxstate"
	"github.com/fenilsonani/mailstate/internal/protocol"
)

// ErrSavedSearchMissing is returned by ToIDs when a saved-search sequence
// is resolved without a prior SEARCH having populated one (spec.md §4.5,
// `NO "No saved search found."`).
var ErrSavedSearchMissing = protocol.NewError(protocol.SavedSearchMissing, nil)

// ToIDs implements sequence_to_ids: the set of (message_id -> ImapID)
// entries the sequence addresses against sel's current snapshot.
func ToIDs(sel *mailboxstate.Selected, seq Sequence, isUID bool) (map[uint32]mailboxstate.ImapID, error) {
	state := sel.Snapshot()

	if !seq.SavedSearch {
		ids := make(map[uint32]mailboxstate.ImapID)
		if len(state.IDToImap) == 0 {
			return ids, nil
		}
		max := coordMax(state, isUID)
		for messageID, imapID := range state.IDToImap {
			if seq.Contains(coordinate(imapID, isUID), max) {
				ids[messageID] = imapID
			}
		}
		return ids, nil
	}

	saved, ok := sel.SavedSearch()
	if !ok {
		return nil, ErrSavedSearchMissing
	}
	ids := make(map[uint32]mailboxstate.ImapID, len(saved))
	for _, imapID := range saved {
		if messageID, ok := state.UIDToID[imapID.UID]; ok {
			ids[messageID] = imapID
		}
	}
	return ids, nil
}

// ExpandMissing implements sequence_expand_missing: the coordinates the
// sequence references that are not present in sel's current snapshot,
// deduplicated and sorted ascending. A saved-search sequence with no saved
// search yields an empty result (the original source silently skips it,
// rather than erroring — this operation has no error path in spec.md).
func ExpandMissing(sel *mailboxstate.Selected, seq Sequence, isUID bool) []uint32 {
	state := sel.Snapshot()
	var missing []uint32

	if !seq.SavedSearch {
		max := coordMax(state, isUID)
		for _, coord := range seq.Expand(max) {
			if isUID {
				if _, ok := state.UIDToID[coord]; !ok {
					missing = append(missing, coord)
				}
			} else if coord > uint32(state.TotalMessages) {
				missing = append(missing, coord)
			}
		}
	} else if saved, ok := sel.SavedSearch(); ok {
		for _, imapID := range saved {
			if _, ok := state.UIDToID[imapID.UID]; !ok {
				missing = append(missing, coordinate(imapID, isUID))
			}
		}
	}

	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return dedupSorted(missing)
}

func coordinate(id mailboxstate.ImapID, isUID bool) uint32 {
	if isUID {
		return id.UID
	}
	return id.Seqnum
}

func coordMax(state *mailboxstate.State, isUID bool) uint32 {
	if isUID {
		return state.UIDMax
	}
	return uint32(state.TotalMessages)
}

func dedupSorted(sorted []uint32) []uint32 {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
