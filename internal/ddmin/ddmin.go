// Package ddmin implements the delta-debugging crash minimizer (C9): the
// binary-chunked 1-minimality reducer of §4.5. Grounded on
// delta_debugging/src/lib.rs.
package ddmin

// Result is the pass/fail verdict an oracle returns for a candidate input.
type Result int

const (
	Pass Result = iota
	Fail
)

// Oracle re-executes a candidate input and reports whether it still
// reproduces the failure being minimized.
type Oracle func(candidate []byte) Result

// Minimize reduces data to a smaller input that still satisfies oracle,
// using the same binary-partitioning search as the original ddmin: split
// into n chunks, try each chunk and each chunk's complement, and grow n
// when neither narrows the input further.
func Minimize(data []byte, oracle Oracle) []byte {
	return doMinimize(data, 2, oracle)
}

func doMinimize(data []byte, n int, oracle Oracle) []byte {
	deltas, complements := Split(data, n)

	for _, delta := range deltas {
		if oracle(delta) == Fail {
			if len(delta) == 1 {
				return delta
			}
			return doMinimize(delta, 2, oracle)
		}
	}

	for _, complement := range complements {
		if oracle(complement) == Fail {
			return doMinimize(complement, maxInt(n-1, 2), oracle)
		}
	}

	if n < len(data) {
		return doMinimize(data, minInt(len(data), 2*n), oracle)
	}
	return data
}

// Split partitions data into n near-equal chunks ("deltas") and, for each
// chunk, the complementary bytes that remain when that chunk is removed
// ("complements"). Complements identical to any delta are filtered out, as
// the original's split does.
func Split(data []byte, n int) (deltas [][]byte, complements [][]byte) {
	if n == 0 {
		return nil, nil
	}
	dataLen := len(data)
	exactChunk := dataLen / n
	remainder := dataLen % n

	type span struct{ start, end int }
	var boundaries []span
	pos := 0
	for i := 0; i < n; i++ {
		chunkSize := exactChunk
		if i < remainder {
			chunkSize++
		}
		if pos+chunkSize > dataLen {
			break
		}
		boundaries = append(boundaries, span{pos, pos + chunkSize})
		pos += chunkSize
	}

	deltas = make([][]byte, len(boundaries))
	for i, b := range boundaries {
		chunk := make([]byte, b.end-b.start)
		copy(chunk, data[b.start:b.end])
		deltas[i] = chunk
	}

	rawComplements := make([][]byte, len(boundaries))
	for i, b := range boundaries {
		var c []byte
		if b.start > 0 {
			c = append(c, data[0:b.start]...)
		}
		if b.end < dataLen {
			c = append(c, data[b.end:dataLen]...)
		}
		rawComplements[i] = c
	}

	for _, c := range rawComplements {
		if containsDelta(deltas, c) {
			continue
		}
		complements = append(complements, c)
	}
	return deltas, complements
}

func containsDelta(deltas [][]byte, c []byte) bool {
	for _, d := range deltas {
		if bytesEqual(d, c) {
			return true
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
