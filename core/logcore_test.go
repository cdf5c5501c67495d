package core

import "testing"

const (
	testSectorSize  = 256
	testClusterSize = 64
	testSectors     = 8
	testDeviceSize  = testSectorSize * testSectors
)

func newTestLogCore(t *testing.T, driver BlockDriver) *LogCore {
	t.Helper()
	lc, err := NewLogCore(driver)
	if err != nil {
		t.Fatalf("NewLogCore: %v", err)
	}
	return lc
}

// createTestFile writes a one-block file directly through LogCore,
// bypassing the fs package's name index (these tests exercise LogCore in
// isolation).
func createTestFile(t *testing.T, lc *LogCore, objID uint16, name string, payload []byte) uint32 {
	t.Helper()
	buf := lc.NewClusterBuffer()
	buf.Reset()
	buf.SetObjID(objID)
	buf.SetBlockID(0)
	buf.SetDataLength(0)
	buf.SetFilename(name)
	buf.SetPayload(0, payload)
	clusterID, err := lc.AppendAndCommit(buf)
	if err != nil {
		t.Fatalf("createTestFile(%s): %v", name, err)
	}
	lc.Files()[objID] = &FileRef{ObjID: objID, Blocks: []uint32{clusterID}, FileSize: uint32(len(payload))}
	return clusterID
}

func TestLogCoreFormat(t *testing.T) {
	driver := NewMemDevice(testDeviceSize, testSectorSize, testClusterSize)
	lc := newTestLogCore(t, driver)

	if err := lc.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	ok, err := lc.CheckIfFormatted()
	if err != nil || !ok {
		t.Fatalf("CheckIfFormatted = (%v, %v), want (true, nil)", ok, err)
	}
	free, orphaned := lc.GetStats()
	if free != int64(testDeviceSize) || orphaned != 0 {
		t.Fatalf("GetStats = (%d, %d), want (%d, 0)", free, orphaned, testDeviceSize)
	}
	if len(lc.Files()) != 0 {
		t.Fatalf("fresh format left %d files behind", len(lc.Files()))
	}
}

func TestLogCoreFormatRejectsOpenFiles(t *testing.T) {
	driver := NewMemDevice(testDeviceSize, testSectorSize, testClusterSize)
	lc := newTestLogCore(t, driver)
	if err := lc.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	createTestFile(t, lc, 1, "A", []byte("hi"))
	lc.Files()[1].OpenCount = 1

	if err := lc.Format(); !Is(err, KindFileInUse) {
		t.Fatalf("Format with an open file = %v, want KindFileInUse", err)
	}
}

func TestLogCoreMountReconstructsFiles(t *testing.T) {
	driver := NewMemDevice(testDeviceSize, testSectorSize, testClusterSize)
	lc := newTestLogCore(t, driver)
	if err := lc.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	createTestFile(t, lc, 1, "A", []byte("hello"))
	createTestFile(t, lc, 2, "B", []byte("world!"))

	remounted := newTestLogCore(t, driver)
	if err := remounted.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if len(remounted.Files()) != 2 {
		t.Fatalf("Mount found %d files, want 2", len(remounted.Files()))
	}
	a, ok := remounted.FindFileRef(1)
	if !ok {
		t.Fatalf("obj_id 1 missing after mount")
	}
	if int(a.FileSize) != len("hello") {
		t.Fatalf("obj_id 1 file_size = %d, want %d", a.FileSize, len("hello"))
	}
}

func TestLogCoreMountAfterMountIsNoOp(t *testing.T) {
	driver := NewMemDevice(testDeviceSize, testSectorSize, testClusterSize)
	lc := newTestLogCore(t, driver)
	if err := lc.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}
	createTestFile(t, lc, 1, "A", []byte("hi"))

	if err := lc.Mount(); err != nil {
		t.Fatalf("first Mount: %v", err)
	}
	free1, orphaned1 := lc.GetStats()
	if err := lc.Mount(); err != nil {
		t.Fatalf("second Mount: %v", err)
	}
	free2, orphaned2 := lc.GetStats()
	if free1 != free2 || orphaned1 != orphaned2 {
		t.Fatalf("Mount twice changed stats: (%d,%d) -> (%d,%d)", free1, orphaned1, free2, orphaned2)
	}
}

func TestLogCoreMountOnUnformattedDeviceFails(t *testing.T) {
	driver := NewMemDevice(testDeviceSize, testSectorSize, testClusterSize)
	lc := newTestLogCore(t, driver)
	if err := lc.Mount(); !Is(err, KindNotFormatted) {
		t.Fatalf("Mount on erased device = %v, want KindNotFormatted", err)
	}
}

func TestLogCoreOrphanAndCompactReclaimsSpace(t *testing.T) {
	driver := NewMemDevice(testDeviceSize, testSectorSize, testClusterSize)
	lc := newTestLogCore(t, driver)
	if err := lc.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}

	var clusters []uint32
	for i := uint16(1); i <= 4; i++ {
		clusters = append(clusters, createTestFile(t, lc, i, "F", []byte("payload")))
	}
	for _, c := range clusters[:3] {
		if err := lc.OrphanCluster(c); err != nil {
			t.Fatalf("OrphanCluster: %v", err)
		}
	}
	delete(lc.Files(), 1)
	delete(lc.Files(), 2)
	delete(lc.Files(), 3)

	_, orphanedBefore := lc.GetStats()
	if orphanedBefore == 0 {
		t.Fatalf("expected some orphaned bytes before compaction")
	}

	if err := lc.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	_, orphanedAfter := lc.GetStats()
	if orphanedAfter != 0 {
		t.Fatalf("orphaned bytes after Compact = %d, want 0", orphanedAfter)
	}
	for s := uint32(0); s < lc.totalSectors; s++ {
		if lc.orphanedPerSector[s] != 0 {
			t.Fatalf("orphaned_per_sector[%d] = %d after compaction, want 0", s, lc.orphanedPerSector[s])
		}
	}

	remounted := newTestLogCore(t, driver)
	if err := remounted.Mount(); err != nil {
		t.Fatalf("Mount after compact: %v", err)
	}
	if _, ok := remounted.FindFileRef(4); !ok {
		t.Fatalf("surviving file obj_id 4 lost after compaction + remount")
	}
	if len(remounted.Files()) != 1 {
		t.Fatalf("Mount after compact found %d files, want 1", len(remounted.Files()))
	}
}

func TestLogCoreCrashBetweenAppendAndCommit(t *testing.T) {
	mem := NewMemDevice(testDeviceSize, testSectorSize, testClusterSize)
	lc := newTestLogCore(t, mem)
	if err := lc.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}

	fault := NewFaultInjectingDevice(mem, 1, 0) // fail the 2nd write: the MarkClusterAllocated flip
	faulty, err := NewLogCore(fault)
	if err != nil {
		t.Fatalf("NewLogCore: %v", err)
	}
	faulty.mounted = true
	faulty.filesIndex = lc.filesIndex
	faulty.freeClusterCount = lc.freeClusterCount
	faulty.orphanedPerSector = lc.orphanedPerSector
	faulty.sectorEraseCount = lc.sectorEraseCount
	faulty.tailClusterID = lc.tailClusterID
	faulty.headSectorID = lc.headSectorID
	faulty.cache = lc.cache

	buf := faulty.NewClusterBuffer()
	buf.Reset()
	buf.SetObjID(9)
	buf.SetBlockID(0)
	buf.SetDataLength(0)
	buf.SetFilename("A")
	buf.SetPayload(0, []byte("x"))

	clusterID, err := faulty.AppendAndCommit(buf)
	if err == nil {
		t.Fatalf("AppendAndCommit unexpectedly succeeded; clusterID=%d", clusterID)
	}
	if !fault.Tripped {
		t.Fatalf("fault device never tripped")
	}

	remounted := newTestLogCore(t, mem)
	if err := remounted.Mount(); err != nil {
		t.Fatalf("Mount after crash: %v", err)
	}
	if _, ok := remounted.FindFileRef(9); ok {
		t.Fatalf("crashed create left a visible file behind")
	}
	_, orphaned := remounted.GetStats()
	if orphaned == 0 {
		t.Fatalf("the stranded Pending cluster should count as orphaned after mount")
	}
}
