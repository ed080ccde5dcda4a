package sequence

import (
	"reflect"
	"testing"
)

func TestTerm_Contains_Number(t *testing.T) {
	term := NewNumber(5)
	if !term.contains(5, 10) {
		t.Error("expected 5 to be contained")
	}
	if term.contains(6, 10) {
		t.Error("did not expect 6 to be contained")
	}
}

func TestTerm_Contains_Range(t *testing.T) {
	term := NewRange(Num(2), Num(4))
	for _, v := range []uint32{2, 3, 4} {
		if !term.contains(v, 10) {
			t.Errorf("expected %d to be contained in 2:4", v)
		}
	}
	if term.contains(5, 10) {
		t.Error("did not expect 5 to be contained in 2:4")
	}
}

func TestTerm_Contains_RangeInvertedBounds(t *testing.T) {
	// "4:2" means the same as "2:4" per IMAP sequence-set grammar.
	term := NewRange(Num(4), Num(2))
	if !term.contains(3, 10) {
		t.Error("expected 3 to be contained in an inverted 4:2 range")
	}
}

func TestTerm_Contains_Wildcard(t *testing.T) {
	term := NewRange(Num(8), Star())
	if !term.contains(10, 10) {
		t.Error("expected wildcard hi bound to resolve to max")
	}
	if term.contains(11, 10) {
		t.Error("did not expect a coordinate beyond max to match")
	}
}

func TestTerm_Contains_ZeroMaxNeverMatches(t *testing.T) {
	term := NewRange(Num(1), Star())
	if term.contains(1, 0) {
		t.Error("a zero max (empty mailbox) should never match")
	}
}

func TestTerm_Expand(t *testing.T) {
	term := NewRange(Num(2), Num(4))
	got := term.expand(10)
	want := []uint32{2, 3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expand() = %v, want %v", got, want)
	}
}

func TestTerm_Expand_ZeroMax(t *testing.T) {
	term := NewNumber(1)
	if got := term.expand(0); got != nil {
		t.Errorf("expand(0) = %v, want nil", got)
	}
}

func TestSequence_Contains(t *testing.T) {
	seq := New(NewNumber(1), NewRange(Num(5), Num(7)))
	if !seq.Contains(1, 10) {
		t.Error("expected 1 to be contained")
	}
	if !seq.Contains(6, 10) {
		t.Error("expected 6 to be contained via the range term")
	}
	if seq.Contains(3, 10) {
		t.Error("did not expect 3 to be contained")
	}
}

func TestSequence_Expand_DedupsAndSorts(t *testing.T) {
	seq := New(NewRange(Num(1), Num(3)), NewNumber(2), NewNumber(5))
	got := seq.Expand(10)
	want := []uint32{1, 2, 3, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand() = %v, want %v", got, want)
	}
}

func TestSequence_Expand_Empty(t *testing.T) {
	seq := New()
	if got := seq.Expand(10); len(got) != 0 {
		t.Errorf("Expand() with no terms = %v, want empty", got)
	}
}
