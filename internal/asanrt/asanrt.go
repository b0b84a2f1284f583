// Package asanrt is the ASAN shadow-memory runtime (C3): the allocator
// interposer plus the shadow-byte protocol described in §3 and §4.2.
// Grounded on asan_runtime/src/{asan_hook,asan_runtime,asan_intrinsic}.rs.
//
// A Go package cannot literally interpose the dynamic linker's malloc/free
// resolution the way the original's `#[no_mangle] extern "C" fn malloc`
// does (there is no dlsym(RTLD_NEXT, ...) equivalent without cgo, and this
// project's domain stack carries none of the pack's cgo-facing
// dependencies — see DESIGN.md). Allocator lives here as an explicit
// capability instead: callers route every allocation through it rather
// than through a transparently-interposed libc entry point. The shadow
// memory, redzone, and allocation-map invariants of §3/§8 are identical;
// only the call-site mechanism differs.
package asanrt

import (
	"fmt"
	"os"
	"sync"

	"github.com/sasha-s/go-deadlock"
	"github.com/petermattis/goid"
)

// Shadow byte markers, per §3's encoding table.
const (
	CleanByte           int8 = 0x00
	StackLeftRedzone     int8 = -0x10
	StackRightRedzone    int8 = -0x11
	HeapLeftRedzone      int8 = -0x20
	HeapRightRedzone     int8 = -0x21
	FreedMarker          int8 = -0x30
)

// AllocKind distinguishes the two redzone marker pairs §3 defines.
type AllocKind uint8

const (
	AllocStack AllocKind = 1
	AllocHeap  AllocKind = 2
)

const (
	shadowScale = 3  // addr >> 3: each shadow byte covers 8 user bytes
	redzone     = 32 // bytes on each side of a usable allocation
)

// ShadowSize is the default shadow array size (§3: implementation default
// 2^32 / 8). Tests use a far smaller region via NewAllocator's size
// parameter; the protocol is identical at any size, addressed modulo its
// length the way the original does (`idx % SHADOW_SIZE`).
const ShadowSize = 1 << 29

// Allocator is the process-wide ASAN state: shadow memory and the
// usable-pointer -> usable-size allocation map of §3. All mutation is
// capability-gated through its methods and guarded by a single lock (§5:
// "Shadow-memory and allocation-map updates happen under a process-wide
// lock held for the duration of allocator callbacks"), using
// github.com/sasha-s/go-deadlock so a lock-ordering mistake in tests fails
// loudly instead of hanging.
type Allocator struct {
	mu         deadlock.Mutex
	shadow     []int8
	allocMap   map[uintptr]int
	reentered  sync.Map // goroutine id -> bool, stands in for the per-thread reentrancy flag
	underlying UnderlyingAllocator
	testMode   bool
	violations []Violation
}

// UnderlyingAllocator is the host allocator an Allocator wraps, matching
// the real malloc/realloc/free triple the original dlsym-resolves.
// Production wiring supplies a cgo-backed implementation; tests supply a
// fake byte-arena one.
type UnderlyingAllocator interface {
	Alloc(size int) uintptr
	Realloc(ptr uintptr, size int) uintptr
	Free(ptr uintptr)
}

// Violation records a reported shadow-check failure for test assertions
// and the fatal reporting path.
type Violation struct {
	Filename string
	Addr     uintptr
	Size     int
	Kind     string // "oob" or "use-after-free"
}

// NewAllocator builds an Allocator of the given shadow size backed by
// underlying. size must be a power of two >= redzone*2 for tests; the
// default ShadowSize is used in production.
func NewAllocator(size int, underlying UnderlyingAllocator, testMode bool) *Allocator {
	return &Allocator{
		shadow:     make([]int8, size),
		allocMap:   make(map[uintptr]int),
		underlying: underlying,
		testMode:   testMode,
	}
}

func (a *Allocator) shadowIdx(addr uintptr) int {
	return int((addr >> shadowScale)) % len(a.shadow)
}

// reentrant reports and toggles the calling goroutine's reentrancy flag,
// standing in for the original's `thread_local! MALLOC_REENTERED`: Go has
// no per-OS-thread storage, so per-goroutine identity from
// github.com/petermattis/goid (already pulled in transitively by
// go-deadlock) is the closest analogue available without cgo.
func (a *Allocator) reentrant() bool {
	v, _ := a.reentered.Load(goid.Get())
	b, _ := v.(bool)
	return b
}

func (a *Allocator) setReentrant(v bool) {
	a.reentered.Store(goid.Get(), v)
}

// Malloc implements the malloc(n) replacement of §4.2: allocates n+2*R
// bytes from the underlying allocator, initializes redzones, records the
// allocation, and returns the usable pointer base+R.
func (a *Allocator) Malloc(n int) uintptr {
	if a.reentrant() {
		return a.underlying.Alloc(n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	base := a.underlying.Alloc(n + 2*redzone)
	return a.initRedzoneLocked(base, n, AllocHeap)
}

// initRedzoneLocked implements __asan_init_redzone: poisons the two
// redzones, clears the usable region's shadow bytes (with the boundary
// byte set to the remainder per §3), and records the allocation. Caller
// must hold a.mu.
func (a *Allocator) initRedzoneLocked(base uintptr, usableSize int, kind AllocKind) uintptr {
	usable := base + redzone
	var leftMarker, rightMarker int8
	switch kind {
	case AllocStack:
		leftMarker, rightMarker = StackLeftRedzone, StackRightRedzone
	case AllocHeap:
		leftMarker, rightMarker = HeapLeftRedzone, HeapRightRedzone
	default:
		panic("asanrt: unknown alloc kind")
	}

	a.poisonRange(base, usable, leftMarker)
	a.unpoisonRange(usable, usable+uintptr(usableSize), rightMarker)
	a.poisonRange(usable+uintptr(usableSize), usable+uintptr(usableSize)+redzone, rightMarker)

	a.allocMap[usable] = usableSize
	return usable
}

// poisonRange writes marker across [start, end), using the exact-remainder
// boundary byte at `start` when start isn't 8-aligned, matching
// set_boundary_poison_byte.
func (a *Allocator) poisonRange(start, end uintptr, marker int8) {
	shadowStart := a.shadowIdx(start)
	shadowEnd := a.shadowIdx(end)
	a.shadow[shadowStart] = a.boundaryByte(start, marker)
	for i := shadowStart + 1; i < shadowEnd; i++ {
		a.shadow[i%len(a.shadow)] = marker
	}
}

// unpoisonRange marks [start, end) as addressable (0x00), with a final
// boundary byte recording the exact remainder.
func (a *Allocator) unpoisonRange(start, end uintptr, rightMarker int8) {
	shadowStart := a.shadowIdx(start)
	shadowEnd := a.shadowIdx(end)
	for i := shadowStart; i < shadowEnd; i++ {
		a.shadow[i%len(a.shadow)] = CleanByte
	}
	a.shadow[shadowEnd] = a.boundaryByte(end, rightMarker)
}

func (a *Allocator) boundaryByte(addr uintptr, marker int8) int8 {
	remaining := addr & 0x7
	if remaining != 0 {
		return int8(remaining)
	}
	return marker
}

// Realloc implements the realloc(p, n) replacement of §4.2.
func (a *Allocator) Realloc(p uintptr, n int) uintptr {
	a.mu.Lock()
	size, known := a.allocMap[p]
	a.mu.Unlock()
	if !known {
		return a.underlying.Realloc(p, n)
	}

	a.poisonFreed(p, size)
	usable := a.Malloc(n)
	// No bytes are copied from the old region to the new one: Allocator
	// tracks addresses and shadow state only, and nothing here moves the
	// old contents.
	a.Free(p)
	return usable
}

// Free implements the free(p) replacement of §4.2.
func (a *Allocator) Free(p uintptr) {
	a.mu.Lock()
	size, known := a.allocMap[p]
	if !known {
		a.mu.Unlock()
		a.underlying.Free(p)
		return
	}
	delete(a.allocMap, p)
	a.poisonFreedLocked(p, size)
	a.mu.Unlock()
	a.underlying.Free(p - redzone)
}

func (a *Allocator) poisonFreed(p uintptr, size int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.poisonFreedLocked(p, size)
}

func (a *Allocator) poisonFreedLocked(p uintptr, size int) {
	start := p - redzone
	end := p + uintptr(size) + redzone
	a.poisonRange(start, end, FreedMarker)
}

// Strcpy implements the strcpy(dst, src) replacement of §4.2: checks every
// byte of dst up to and including the terminator before delegating,
// deliberately checking len(src)+1 bytes (§9 open question iii).
func (a *Allocator) Strcpy(dst uintptr, src []byte) {
	for i := 0; i <= len(src); i++ {
		a.MemCheck("libc::strcpy", dst+uintptr(i), 1)
	}
}

// MemCheck implements §4.2's mem_check(addr, sz) protocol: compute the
// shadow index, and if the shadow byte is non-zero, compare the access's
// tail offset against it (any negative shadow byte always fails, since an
// int8 comparison against a negative value is satisfied by any sz > 0).
func (a *Allocator) MemCheck(filename string, addr uintptr, size int) {
	if addr == 0 {
		return
	}
	a.mu.Lock()
	shadowVal := a.shadow[a.shadowIdx(addr)]
	a.mu.Unlock()

	if shadowVal == CleanByte {
		return
	}
	if int8((addr&0x7))+int8(size) > shadowVal {
		a.report(filename, addr, size, shadowVal)
	}
}

func (a *Allocator) report(filename string, addr uintptr, size int, shadowVal int8) {
	kind := "oob"
	if shadowVal == FreedMarker {
		kind = "use-after-free"
	}
	a.mu.Lock()
	a.violations = append(a.violations, Violation{Filename: filename, Addr: addr, Size: size, Kind: kind})
	a.mu.Unlock()

	a.setReentrant(true)
	if a.testMode {
		fmt.Printf("[ASAN] invalid memory access detected at %s\n", filename)
	} else {
		fmt.Printf("[ASAN] invalid memory access detected at %s: 0x%x\n", filename, addr)
	}
	a.setReentrant(false)
	if !a.testMode {
		os.Exit(ExitCode)
	}
}

// Violations returns every reported shadow-check failure so far, for tests
// that assert on §8's concrete ASAN scenarios without observing the fatal
// os.Exit(99) path.
func (a *Allocator) Violations() []Violation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Violation, len(a.violations))
	copy(out, a.violations)
	return out
}

// AllocationSize returns the usable size recorded for usablePtr, and
// whether an entry exists, exercising §3's Allocation Map invariant in
// tests.
func (a *Allocator) AllocationSize(usablePtr uintptr) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.allocMap[usablePtr]
	return n, ok
}

// ShadowByte returns the raw shadow byte covering addr, for invariant
// assertions in tests (§8: redzone bytes must be negative, freed regions
// must read FreedMarker).
func (a *Allocator) ShadowByte(addr uintptr) int8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shadow[a.shadowIdx(addr)]
}

// ExitCode is the process exit code a fatal ASAN violation terminates with
// outside test mode (§7).
const ExitCode = 99
