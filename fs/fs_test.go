package fs

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/coreflash/flashfs/core"
)

const (
	smallSectorSize  = 256
	smallClusterSize = 64
	smallSectors     = 8
	smallDeviceSize  = smallSectorSize * smallSectors
)

func newTestFileSystem(t *testing.T, deviceSize, sectorSize, clusterSize int) *FileSystem {
	t.Helper()
	driver := core.NewMemDevice(deviceSize, sectorSize, clusterSize)
	fsys, err := NewFileSystem(driver)
	if err != nil {
		t.Fatalf("NewFileSystem: %v", err)
	}
	if err := fsys.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	return fsys
}

func TestFileSystemFormatEmptyStats(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize, smallSectorSize, smallClusterSize)
	free, orphaned, err := fsys.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if free != int64(smallDeviceSize) || orphaned != 0 {
		t.Fatalf("GetStats = (%d, %d), want (%d, 0)", free, orphaned, smallDeviceSize)
	}
	names, err := fsys.GetFiles()
	if err != nil || len(names) != 0 {
		t.Fatalf("GetFiles = (%v, %v), want empty", names, err)
	}
}

func TestWriteAllBytesReadAllBytesRoundTrip(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize, smallSectorSize, smallClusterSize)

	// clusterSize=64 leaves 31 payload bytes in block 0 and 57 in later
	// blocks, so 150 bytes (31+57+57+5) forces the write across four blocks.
	payload := bytes.Repeat([]byte("0123456789"), 15)
	if err := fsys.WriteAllBytes("DATA.BIN", payload); err != nil {
		t.Fatalf("WriteAllBytes: %v", err)
	}

	got, err := fsys.ReadAllBytes("DATA.BIN")
	if err != nil {
		t.Fatalf("ReadAllBytes: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(payload))
	}

	size, err := fsys.GetFileSize("DATA.BIN")
	if err != nil || size != int64(len(payload)) {
		t.Fatalf("GetFileSize = (%d, %v), want (%d, nil)", size, err, len(payload))
	}
}

func TestFilenameLookupIsCaseInsensitive(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize, smallSectorSize, smallClusterSize)
	if err := fsys.WriteAllBytes("MixedCase.TXT", []byte("x")); err != nil {
		t.Fatalf("WriteAllBytes: %v", err)
	}
	if !fsys.Exists("mixedcase.txt") {
		t.Fatalf("Exists should be case-insensitive")
	}
	if _, err := fsys.GetFileSize("MIXEDCASE.txt"); err != nil {
		t.Fatalf("GetFileSize case-insensitive lookup failed: %v", err)
	}
}

func TestCreateDeleteCompactReclaimsSpace(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize, smallSectorSize, smallClusterSize)

	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("F%d.TXT", i)
		if err := fsys.WriteAllBytes(name, []byte("payload")); err != nil {
			t.Fatalf("WriteAllBytes(%s): %v", name, err)
		}
	}
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("F%d.TXT", i)
		if err := fsys.Delete(name); err != nil {
			t.Fatalf("Delete(%s): %v", name, err)
		}
	}

	_, orphanedBefore, _ := fsys.GetStats()
	if orphanedBefore == 0 {
		t.Fatalf("expected orphaned bytes before Compact")
	}

	if err := fsys.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	_, orphanedAfter, _ := fsys.GetStats()
	if orphanedAfter != 0 {
		t.Fatalf("orphaned bytes after Compact = %d, want 0", orphanedAfter)
	}
	if !fsys.Exists("F3.TXT") {
		t.Fatalf("surviving file F3.TXT lost after Compact")
	}
}

func TestDeleteOpenFileFails(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize, smallSectorSize, smallClusterSize)
	s, err := fsys.Create("OPEN.TXT", DefaultStreamBuffer)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	if err := fsys.Delete("OPEN.TXT"); !core.Is(err, core.KindFileInUse) {
		t.Fatalf("Delete open file = %v, want KindFileInUse", err)
	}
}

func TestOpenAppendModeSeeksToEnd(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize, smallSectorSize, smallClusterSize)
	if err := fsys.WriteAllBytes("LOG.TXT", []byte("line1\n")); err != nil {
		t.Fatalf("WriteAllBytes: %v", err)
	}

	s, err := fsys.Open("LOG.TXT", ModeAppend, DefaultStreamBuffer)
	if err != nil {
		t.Fatalf("Open append: %v", err)
	}
	if _, err := s.Write([]byte("line2\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := fsys.ReadAllBytes("LOG.TXT")
	if err != nil {
		t.Fatalf("ReadAllBytes: %v", err)
	}
	if string(got) != "line1\nline2\n" {
		t.Fatalf("ReadAllBytes = %q, want %q", got, "line1\nline2\n")
	}
}

func TestOpenCreateNewRejectsExisting(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize, smallSectorSize, smallClusterSize)
	if err := fsys.WriteAllBytes("X.TXT", []byte("x")); err != nil {
		t.Fatalf("WriteAllBytes: %v", err)
	}
	if _, err := fsys.Open("X.TXT", ModeCreateNew, DefaultStreamBuffer); !core.Is(err, core.KindPathAlreadyExists) {
		t.Fatalf("Open(ModeCreateNew) on existing file = %v, want KindPathAlreadyExists", err)
	}
}

func TestOpenModeOpenMissingFails(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize, smallSectorSize, smallClusterSize)
	if _, err := fsys.Open("MISSING.TXT", ModeOpen, DefaultStreamBuffer); !core.Is(err, core.KindFileNotFound) {
		t.Fatalf("Open(ModeOpen) on missing file = %v, want KindFileNotFound", err)
	}
}

func TestMoveRenamesFile(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize, smallSectorSize, smallClusterSize)
	if err := fsys.WriteAllBytes("OLD.TXT", []byte("data")); err != nil {
		t.Fatalf("WriteAllBytes: %v", err)
	}
	if err := fsys.Move("OLD.TXT", "NEW.TXT"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if fsys.Exists("OLD.TXT") {
		t.Fatalf("OLD.TXT should be gone after Move")
	}
	got, err := fsys.ReadAllBytes("NEW.TXT")
	if err != nil || string(got) != "data" {
		t.Fatalf("ReadAllBytes(NEW.TXT) = (%q, %v)", got, err)
	}
}

func TestCopyConflictAndOverwrite(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize, smallSectorSize, smallClusterSize)
	if err := fsys.WriteAllBytes("SRC.TXT", []byte("source")); err != nil {
		t.Fatalf("WriteAllBytes(SRC.TXT): %v", err)
	}
	if err := fsys.WriteAllBytes("DST.TXT", []byte("stale")); err != nil {
		t.Fatalf("WriteAllBytes(DST.TXT): %v", err)
	}

	if err := fsys.Copy("SRC.TXT", "DST.TXT", false); !core.Is(err, core.KindPathAlreadyExists) {
		t.Fatalf("Copy without overwrite = %v, want KindPathAlreadyExists", err)
	}

	if err := fsys.Copy("SRC.TXT", "DST.TXT", true); err != nil {
		t.Fatalf("Copy with overwrite: %v", err)
	}
	got, err := fsys.ReadAllBytes("DST.TXT")
	if err != nil || string(got) != "source" {
		t.Fatalf("ReadAllBytes(DST.TXT) after overwrite = (%q, %v)", got, err)
	}
	if !fsys.Exists("SRC.TXT") {
		t.Fatalf("Copy must not remove the source")
	}
}

func TestTruncateShrinksFile(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize, smallSectorSize, smallClusterSize)
	payload := bytes.Repeat([]byte("A"), 100)
	if err := fsys.WriteAllBytes("BIG.TXT", payload); err != nil {
		t.Fatalf("WriteAllBytes: %v", err)
	}

	s, err := fsys.Open("BIG.TXT", ModeOpen, DefaultStreamBuffer)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetLength(10); err != nil {
		t.Fatalf("SetLength: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	size, err := fsys.GetFileSize("BIG.TXT")
	if err != nil || size != 10 {
		t.Fatalf("GetFileSize after truncate = (%d, %v), want (10, nil)", size, err)
	}
	got, err := fsys.ReadAllBytes("BIG.TXT")
	if err != nil || string(got) != "AAAAAAAAAA" {
		t.Fatalf("ReadAllBytes after truncate = (%q, %v)", got, err)
	}
}

func TestDiskFullOnTrulyExhaustedDevice(t *testing.T) {
	// 2 sectors, 4 clusters each: 8 clusters total, min_free_clusters=8,
	// so free space never rises above the threshold: not even the first
	// cluster can be appended, and there is nothing to compact away.
	fsys := newTestFileSystem(t, 2*smallSectorSize, smallSectorSize, smallClusterSize)

	var lastErr error
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("F%d.TXT", i)
		lastErr = fsys.WriteAllBytes(name, []byte("x"))
		if lastErr != nil {
			break
		}
	}
	if !core.Is(lastErr, core.KindDiskFull) {
		t.Fatalf("exhausting the device returned %v, want KindDiskFull", lastErr)
	}
}

func TestPartialCompactRecoversSpaceForNewWrites(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize, smallSectorSize, smallClusterSize)

	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("OLD%d.TXT", i)
		if err := fsys.WriteAllBytes(name, []byte("payload")); err != nil {
			t.Fatalf("WriteAllBytes(%s): %v", name, err)
		}
	}
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("OLD%d.TXT", i)
		if err := fsys.Delete(name); err != nil {
			t.Fatalf("Delete(%s): %v", name, err)
		}
	}
	_, orphanedBefore, _ := fsys.GetStats()

	for i := 0; i < 24; i++ {
		name := fmt.Sprintf("NEW%d.TXT", i)
		if err := fsys.WriteAllBytes(name, []byte("payload")); err != nil {
			t.Fatalf("WriteAllBytes(%s) after deletes: %v (lazy compaction should have made room)", name, err)
		}
	}

	_, orphanedAfter, _ := fsys.GetStats()
	if orphanedAfter >= orphanedBefore {
		t.Fatalf("orphaned bytes did not shrink: before=%d after=%d", orphanedBefore, orphanedAfter)
	}
}

func TestCrashDuringCreateLeavesPriorFileIntact(t *testing.T) {
	mem := core.NewMemDevice(smallDeviceSize, smallSectorSize, smallClusterSize)
	fsys0, err := NewFileSystem(mem)
	if err != nil {
		t.Fatalf("NewFileSystem: %v", err)
	}
	if err := fsys0.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	if err := fsys0.WriteAllBytes("A.TXT", []byte("hello")); err != nil {
		t.Fatalf("WriteAllBytes(A.TXT): %v", err)
	}

	fault := core.NewFaultInjectingDevice(mem, 1, 0) // fail the 2nd write: the new file's commit flip
	fsys1, err := NewFileSystem(fault)
	if err != nil {
		t.Fatalf("NewFileSystem(fault): %v", err)
	}
	if err := fsys1.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	if err := fsys1.WriteAllBytes("B.TXT", []byte("newdata")); err == nil {
		t.Fatalf("WriteAllBytes(B.TXT) through the fault device unexpectedly succeeded")
	}
	if !fault.Tripped {
		t.Fatalf("fault device never tripped")
	}

	fsys2, err := NewFileSystem(mem)
	if err != nil {
		t.Fatalf("NewFileSystem(mem) after crash: %v", err)
	}
	if err := fsys2.Mount(); err != nil {
		t.Fatalf("Mount after crash: %v", err)
	}
	if !fsys2.Exists("A.TXT") {
		t.Fatalf("pre-crash file A.TXT lost after crash recovery")
	}
	if fsys2.Exists("B.TXT") {
		t.Fatalf("crashed create left B.TXT visible after recovery")
	}
	got, err := fsys2.ReadAllBytes("A.TXT")
	if err != nil || string(got) != "hello" {
		t.Fatalf("ReadAllBytes(A.TXT) after crash recovery = (%q, %v)", got, err)
	}
}

func TestStreamRoundTripChecksumMatches(t *testing.T) {
	fsys := newTestFileSystem(t, smallDeviceSize*4, smallSectorSize, smallClusterSize)

	dp, err := NewRandomDataProvider(17, 613, false)
	if err != nil {
		t.Fatalf("NewRandomDataProvider: %v", err)
	}
	written, writeSum, err := WriteStream(fsys, "STREAM.BIN", dp, false)
	if err != nil {
		t.Fatalf("WriteStream: %v", err)
	}
	if written != 613 {
		t.Fatalf("WriteStream wrote %d bytes, want 613", written)
	}

	dc := NewNullDataConsumer()
	read, readSum, err := ReadStream(fsys, "STREAM.BIN", dc, 23, false)
	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	if read != written {
		t.Fatalf("ReadStream read %d bytes, want %d", read, written)
	}
	if readSum != writeSum {
		t.Fatalf("ReadStream checksum %x != WriteStream checksum %x", readSum, writeSum)
	}
}
