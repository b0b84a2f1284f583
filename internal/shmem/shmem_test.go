package shmem

import (
	"os"
	"testing"
)

func TestCreateOpenRoundTrip(t *testing.T) {
	r, err := Create(os.TempDir(), "shmem-test", 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer func() {
		r.Close()
		os.Remove(r.Path)
	}()

	r.WriteU64(AuxNewCoverageFlag, 1)
	r.WriteU128(AuxPrevLoc, 0xdead, 0xbeef)

	opened, err := Open(r.Path, 4096)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer opened.Close()

	if got := opened.ReadU64(AuxNewCoverageFlag); got != 1 {
		t.Fatalf("ReadU64(AuxNewCoverageFlag) = %d, want 1", got)
	}
	lo, hi := opened.ReadU128(AuxPrevLoc)
	if lo != 0xdead || hi != 0xbeef {
		t.Fatalf("ReadU128(AuxPrevLoc) = (%x, %x), want (dead, beef)", lo, hi)
	}
}

func TestWriteU64IsLittleEndian(t *testing.T) {
	r, err := Create(os.TempDir(), "shmem-test-le", 64)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer func() {
		r.Close()
		os.Remove(r.Path)
	}()

	r.WriteU64(0, 0x0102030405060708)
	b := r.Bytes()
	want := []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	for i, w := range want {
		if b[i] != w {
			t.Fatalf("byte %d = %#x, want %#x", i, b[i], w)
		}
	}
}

func TestSizeFromEnv(t *testing.T) {
	t.Setenv("LBE_TEST_SIZE", "65536")
	n, ok := SizeFromEnv("LBE_TEST_SIZE")
	if !ok || n != 65536 {
		t.Fatalf("SizeFromEnv = (%d, %v), want (65536, true)", n, ok)
	}

	if _, ok := SizeFromEnv("LBE_TEST_SIZE_UNSET"); ok {
		t.Fatal("SizeFromEnv must report ok=false for an unset variable")
	}

	t.Setenv("LBE_TEST_SIZE_BAD", "12a4")
	if _, ok := SizeFromEnv("LBE_TEST_SIZE_BAD"); ok {
		t.Fatal("SizeFromEnv must report ok=false for a malformed value")
	}
}

func TestAuxVisitedEdgesOffsetsDoNotOverlapFixedFields(t *testing.T) {
	if AuxVisitedEdges < AuxVisitMark+8 {
		t.Fatalf("AuxVisitedEdges (%d) overlaps the fixed aux fields ending at %d", AuxVisitedEdges, AuxVisitMark+8)
	}
}
