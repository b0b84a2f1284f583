package ddmin

import (
	"bytes"
	"testing"
)

// TestDdminFindsFailingSubsequence implements §8 scenario 6: for input
// "12345678" whose oracle fails on any candidate holding '1', '7', '8' in
// that order, Minimize returns bytes equal to "178".
func TestDdminFindsFailingSubsequence(t *testing.T) {
	input := []byte("12345678")
	want := []byte("178")
	oracle := func(candidate []byte) Result {
		i := 0
		for _, b := range candidate {
			if i < len(want) && b == want[i] {
				i++
			}
		}
		if i == len(want) {
			return Fail
		}
		return Pass
	}

	got := Minimize(input, oracle)
	if !bytes.Equal(got, []byte("178")) {
		t.Fatalf("want %q, got %q", "178", got)
	}
}

// TestDdminResultIsSubsetAndFails checks §8's invariant: the result is a
// subset (as a multiset of bytes) of the original, and still fails.
func TestDdminResultIsSubsetAndFails(t *testing.T) {
	input := []byte("the quick brown fox jumps over the lazy dog")
	needle := []byte("fox")
	oracle := func(candidate []byte) Result {
		if bytes.Contains(candidate, needle) {
			return Fail
		}
		return Pass
	}

	got := Minimize(input, oracle)
	if oracle(got) != Fail {
		t.Fatalf("minimized input must still fail the oracle: %q", got)
	}
	if !isSubsetMultiset(got, input) {
		t.Fatalf("minimized input %q is not a subset of %q", got, input)
	}
}

func isSubsetMultiset(sub, super []byte) bool {
	counts := make(map[byte]int)
	for _, b := range super {
		counts[b]++
	}
	for _, b := range sub {
		if counts[b] == 0 {
			return false
		}
		counts[b]--
	}
	return true
}

func TestSplitFiltersDuplicateComplements(t *testing.T) {
	data := []byte("ab")
	deltas, complements := Split(data, 2)
	if len(deltas) != 2 {
		t.Fatalf("want 2 deltas, got %d", len(deltas))
	}
	for _, c := range complements {
		for _, d := range deltas {
			if bytes.Equal(c, d) {
				t.Fatalf("complement %q duplicates a delta", c)
			}
		}
	}
}
