// Package sequence implements the IMAP sequence-set grammar and its
// resolution against a mailbox snapshot (spec.md §4.5): bare numbers,
// ranges with optional wildcard endpoints, and the saved-search token.
// The wire-level parser that produces a Sequence from raw command text is
// an external collaborator (spec.md §1); this package only resolves an
// already-parsed Sequence.
package sequence

import "sort"

// Bound is one endpoint of a range term: either a literal value or the
// wildcard "*", which resolves to uid_max (UID-addressed) or
// total_messages (seqnum-addressed) at evaluation time.
type Bound struct {
	Wildcard bool
	Value    uint32
}

// Num builds a literal Bound.
func Num(v uint32) Bound { return Bound{Value: v} }

// Star builds the wildcard Bound.
func Star() Bound { return Bound{Wildcard: true} }

func (b Bound) resolve(max uint32) uint32 {
	if b.Wildcard {
		return max
	}
	return b.Value
}

// Term is one element of a Sequence: either a single coordinate (which may
// itself be the bare wildcard) or a range between two Bounds.
type Term struct {
	IsRange bool
	Lo      Bound
	Hi      Bound
}

// NewNumber builds a bare-number term.
func NewNumber(v uint32) Term { return Term{Lo: Num(v)} }

// NewWildcard builds a bare "*" term.
func NewWildcard() Term { return Term{Lo: Star()} }

// NewRange builds an "a:b" term; either bound may be Star().
func NewRange(lo, hi Bound) Term { return Term{IsRange: true, Lo: lo, Hi: hi} }

// contains reports whether coordinate falls within the term, resolved
// against max. A zero max (empty mailbox / no messages) never matches,
// per spec.md §4.5 ("empty/zero maxima yield empty results").
func (t Term) contains(coordinate, max uint32) bool {
	if max == 0 {
		return false
	}
	if !t.IsRange {
		return coordinate == t.Lo.resolve(max)
	}
	lo, hi := t.Lo.resolve(max), t.Hi.resolve(max)
	if lo > hi {
		lo, hi = hi, lo
	}
	return coordinate >= lo && coordinate <= hi
}

// expand returns every coordinate the term denotes, resolved against max.
func (t Term) expand(max uint32) []uint32 {
	if max == 0 {
		return nil
	}
	if !t.IsRange {
		return []uint32{t.Lo.resolve(max)}
	}
	lo, hi := t.Lo.resolve(max), t.Hi.resolve(max)
	if lo > hi {
		lo, hi = hi, lo
	}
	out := make([]uint32, 0, hi-lo+1)
	for v := lo; v <= hi; v++ {
		out = append(out, v)
	}
	return out
}

// Sequence is a resolved IMAP sequence-set: either a list of Terms or the
// saved-search token "$".
type Sequence struct {
	Terms       []Term
	SavedSearch bool
}

// New builds a non-saved-search Sequence from its terms.
func New(terms ...Term) Sequence { return Sequence{Terms: terms} }

// Saved builds the "$" saved-search Sequence.
func Saved() Sequence { return Sequence{SavedSearch: true} }

// Contains reports whether coordinate is denoted by any term, resolved
// against max. Undefined (and always false) for a saved-search sequence —
// callers must special-case SavedSearch before calling this.
func (s Sequence) Contains(coordinate, max uint32) bool {
	for _, t := range s.Terms {
		if t.contains(coordinate, max) {
			return true
		}
	}
	return false
}

// Expand returns every coordinate denoted by the sequence, resolved
// against max, deduplicated and sorted ascending.
func (s Sequence) Expand(max uint32) []uint32 {
	seen := make(map[uint32]struct{})
	for _, t := range s.Terms {
		for _, v := range t.expand(max) {
			seen[v] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
