// Package shmem implements the memory-mapped byte regions shared between
// the fuzzer host and the instrumented target process (C1): the coverage
// bitmap, the auxiliary coverage-state scratch area, and the line-coverage
// report staging buffer named in §6's shared-memory table. Grounded on
// fuzzer_runtime/src/internal.rs and coverage_runtime/src/mmap.rs, which
// back their regions with memmap2 over a `/tmp/`-file; this package uses
// golang.org/x/sys/unix the way the retrieval pack's own mmap-adjacent
// repos do (DanielLaubacher-gogrep's internal/uring, momentics-hioload-ws's
// internal/transport, ehrlich-b-go-ublk's internal/queue), rather than
// hand-rolling syscalls.
package shmem

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Region is a fixed-size, file-backed shared memory mapping. Reads and
// writes are word-aligned little-endian, matching §5's "primitive access
// uses unsynchronized but word-aligned little-endian reads/writes" note:
// the fork-server serializes one child at a time, so Region itself does no
// internal locking.
type Region struct {
	Path string
	Size int
	data []byte
	file *os.File
}

// Create allocates a new region backed by a fresh file of the given size
// under dir (conventionally "/tmp", per §5), named by namePrefix plus a
// unique suffix so concurrent campaigns never collide.
func Create(dir, namePrefix string, size int) (*Region, error) {
	f, err := os.CreateTemp(dir, namePrefix+"-*")
	if err != nil {
		return nil, errors.Wrap(err, "shmem: create backing file")
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, errors.Wrap(err, "shmem: truncate backing file")
	}
	return mapFile(f, size)
}

// Open maps an existing file at path, sized size. This is what the target
// process does on startup, reading SHM_ID/SHM_SIZE (or the aux/cov
// counterparts) from its environment per §6.
func Open(path string, size int) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "shmem: open backing file")
	}
	return mapFile(f, size)
}

func mapFile(f *os.File, size int) (*Region, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "shmem: mmap")
	}
	return &Region{Path: f.Name(), Size: size, data: data, file: f}, nil
}

// Close unmaps the region and closes its backing file. It does not remove
// the file: the host process is responsible for unlinking its own
// temporary regions once the target has exited.
func (r *Region) Close() error {
	if r == nil || r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Bytes exposes the raw mapped region. Callers use the typed readers and
// writers below rather than indexing this directly, except for the
// coverage bitmap (C2), which is addressed byte-for-byte by edge id.
func (r *Region) Bytes() []byte { return r.data }

// ReadU64 reads a little-endian 64-bit word at byte offset off.
func (r *Region) ReadU64(off int) uint64 {
	return binary.LittleEndian.Uint64(r.data[off : off+8])
}

// WriteU64 writes a little-endian 64-bit word at byte offset off.
func (r *Region) WriteU64(off int, v uint64) {
	binary.LittleEndian.PutUint64(r.data[off:off+8], v)
}

// ReadU128 reads a little-endian 128-bit scratch value (used only for
// prev_loc, per §3) as two 64-bit halves.
func (r *Region) ReadU128(off int) (lo, hi uint64) {
	return r.ReadU64(off), r.ReadU64(off + 8)
}

// WriteU128 writes a little-endian 128-bit scratch value.
func (r *Region) WriteU128(off int, lo, hi uint64) {
	r.WriteU64(off, lo)
	r.WriteU64(off+8, hi)
}

// Aux layout offsets, per §6's shared-memory aux layout table.
const (
	AuxPrevLoc         = 0  // 16 bytes
	AuxNewCoverageFlag = 16 // 8 bytes
	AuxVisitEdgesCount = 24 // 8 bytes
	AuxVisitMark       = 32 // 8 bytes
	AuxVisitedEdges    = 40 // 8 bytes each, VisitMark entries
	AuxVisitedEdgeSize = 8
)

// SizeFromEnv reads a decimal size from the named environment variable,
// returning ok=false if it is unset or malformed.
func SizeFromEnv(name string) (int, bool) {
	v, set := os.LookupEnv(name)
	if !set {
		return 0, false
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
