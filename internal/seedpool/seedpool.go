// Package seedpool implements the fuzzer's seed data model and
// priority-ordered pool (§3, §4.4). Grounded on fuzzer/src/seed.rs.
package seedpool

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// MaxSeedLen is the pool's hard cap (§3); on overflow the lowest-scoring
// seed is evicted.
const MaxSeedLen = 1000

// Seed is the (bytes, score) tuple of §3. Two Seeds with identical bytes
// but different scores are distinct pool entries, as the original's
// Eq/Hash impl (which compares both fields) allows.
type Seed struct {
	Input []byte
	Score uint64
}

// New returns a Seed with the given bytes and score.
func New(input []byte, score uint64) Seed {
	return Seed{Input: input, Score: score}
}

// Less orders seeds by (score asc, bytes asc), the BTreeSet ordering key.
func (s Seed) Less(other Seed) bool {
	if s.Score != other.Score {
		return s.Score < other.Score
	}
	return bytes.Compare(s.Input, other.Input) < 0
}

func (s Seed) equal(other Seed) bool {
	return s.Score == other.Score && bytes.Equal(s.Input, other.Input)
}

// ToHex renders the seed's bytes as an uppercase hex string, matching
// Seed::to_hex, used for debug/UI event payloads.
func (s Seed) ToHex() string {
	const hexDigits = "0123456789ABCDEF"
	out := make([]byte, len(s.Input)*2)
	for i, b := range s.Input {
		out[i*2] = hexDigits[b>>4]
		out[i*2+1] = hexDigits[b&0xf]
	}
	return string(out)
}

// WriteCrashFile persists the seed under dir/<n>.crash, matching
// Seed::to_file's "crashes/<n>.crash" convention.
func (s Seed) WriteCrashFile(dir string, n int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "seedpool: create crash directory")
	}
	path := filepath.Join(dir, itoa(n)+".crash")
	return errors.Wrap(os.WriteFile(path, s.Input, 0o644), "seedpool: write crash file")
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Pool is the totally-ordered seed set of §3/§4.4. It is a thin sorted
// slice rather than the original's BTreeSet: Go's standard library has no
// ordered-set container, and a slice kept sorted by Seed.Less gives the
// same (score asc, bytes asc) ordering and O(log n) lookup via sort.Search
// at this pool's bounded size.
type Pool struct {
	seeds []Seed
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// LoadDir seeds the pool with one Seed (score 0) per regular file in dir,
// matching SeedPool::new's read_seed_dir call.
func LoadDir(dir string) (*Pool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "seedpool: read seed directory")
	}
	p := NewPool()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "seedpool: read seed file %s", e.Name())
		}
		p.Add(New(data, 0))
	}
	return p, nil
}

func (p *Pool) insertIndex(s Seed) int {
	return sort.Search(len(p.seeds), func(i int) bool { return !p.seeds[i].Less(s) })
}

// Add inserts s, then evicts the lowest-scoring seed if the insert took
// the pool over its MaxSeedLen cap (§3: "on overflow the lowest-scoring
// seed is evicted").
func (p *Pool) Add(s Seed) {
	idx := p.insertIndex(s)
	p.seeds = append(p.seeds, Seed{})
	copy(p.seeds[idx+1:], p.seeds[idx:])
	p.seeds[idx] = s
	if len(p.seeds) > MaxSeedLen {
		p.seeds = p.seeds[1:]
	}
}

// Pop removes and returns the highest-scoring seed, or ok=false if the
// pool is empty.
func (p *Pool) Pop() (Seed, bool) {
	if len(p.seeds) == 0 {
		return Seed{}, false
	}
	last := len(p.seeds) - 1
	s := p.seeds[last]
	p.seeds = p.seeds[:last]
	return s, true
}

// IsEmpty reports whether the pool has no seeds left.
func (p *Pool) IsEmpty() bool { return len(p.seeds) == 0 }

// Len returns the number of seeds currently in the pool.
func (p *Pool) Len() int { return len(p.seeds) }
