/*
 logcore.go

 GNU GENERAL PUBLIC LICENSE
 Version 3, 29 June 2007
 Copyright (C) 2024 Jack Ng <jack.ng.ca@gmail.com>

 This program is free software: you can redistribute it and/or modify
 it under the terms of the GNU General Public License as published by
 the Free Software Foundation, either version 3 of the License, or
 (at your option) any later version.

 This program is distributed in the hope that it will be useful,
 but WITHOUT ANY WARRANTY; without even the implied warranty of
 MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 GNU General Public License for more details.

 You should have received a copy of the GNU General Public License
 along with this program.  If not, see <https://www.gnu.org/licenses/> */

package core

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// minFreeSectorsFactor sets min_free_clusters = minFreeSectorsFactor *
// clusters_per_sector, the compaction trigger threshold.
const minFreeSectorsFactor = 2

// LogCore is the append-only, wear-aware write-ahead log underneath the
// file system: mount-time reconstruction, the circular head/tail pointers,
// free/orphan accounting, and compaction. It never knows about filenames;
// FileOps in the fs package builds file semantics on top of the plain
// (obj_id, block_id, cluster_id) mapping this type maintains.
type LogCore struct {
	driver BlockDriver

	clusterSize       int
	sectorSize        int
	clustersPerSector uint32
	totalClusters     uint32
	totalSectors      uint32
	minFreeClusters   uint32

	headSectorID  uint32
	tailClusterID uint32

	freeClusterCount     uint32
	orphanedClusterCount uint32
	orphanedPerSector    []uint32
	sectorEraseCount     []uint32

	lastObjID  uint16
	filesIndex map[uint16]*FileRef

	mounted    bool
	compacting bool

	scratch *ClusterBuffer

	cache *ClusterCache
}

// NewLogCore validates driver geometry and returns an unmounted LogCore.
// Callers must call Format or Mount before any other operation.
func NewLogCore(driver BlockDriver) (*LogCore, error) {
	clusterSize := driver.ClusterSize()
	sectorSize := driver.SectorSize()
	deviceSize := driver.DeviceSize()

	if clusterSize <= 0 || sectorSize <= 0 || sectorSize%clusterSize != 0 {
		return nil, fmt.Errorf("logcore: cluster_size (%d) must evenly divide sector_size (%d)", clusterSize, sectorSize)
	}
	clustersPerSector := uint32(sectorSize / clusterSize)

	totalClusters64 := deviceSize / int64(clusterSize)
	if totalClusters64 <= 0 || totalClusters64 > 0xFFFF {
		return nil, fmt.Errorf("logcore: total_cluster_count (%d) must fit a 16-bit cluster id", totalClusters64)
	}
	totalClusters := uint32(totalClusters64)
	if totalClusters%clustersPerSector != 0 {
		return nil, fmt.Errorf("logcore: device_size must be a whole number of sectors")
	}
	totalSectors := totalClusters / clustersPerSector

	return &LogCore{
		driver:            driver,
		clusterSize:       clusterSize,
		sectorSize:        sectorSize,
		clustersPerSector: clustersPerSector,
		totalClusters:     totalClusters,
		totalSectors:      totalSectors,
		minFreeClusters:   minFreeSectorsFactor * clustersPerSector,
		orphanedPerSector: make([]uint32, totalSectors),
		sectorEraseCount:  make([]uint32, totalSectors),
		filesIndex:        make(map[uint16]*FileRef),
		scratch:           NewClusterBuffer(clusterSize),
		cache:             NewClusterCache(ClusterCacheSize),
	}, nil
}

func (lc *LogCore) sectorOf(clusterID uint32) uint32 { return clusterID / lc.clustersPerSector }

// ClusterSize, Mounted and the other small getters below let the fs
// package drive LogCore without reaching past it at the driver.
func (lc *LogCore) ClusterSize() int { return lc.clusterSize }
func (lc *LogCore) Mounted() bool    { return lc.mounted }

// NewClusterBuffer allocates a scratch buffer sized for this device.
func (lc *LogCore) NewClusterBuffer() *ClusterBuffer { return NewClusterBuffer(lc.clusterSize) }

// Files returns the live obj_id -> FileRef index. Callers hold the same
// lock LogCore itself assumes (the fs package's FileSystem mutex); they
// may mutate FileRef fields and insert/delete entries directly.
func (lc *LogCore) Files() map[uint16]*FileRef { return lc.filesIndex }

func (lc *LogCore) FindFileRef(objID uint16) (*FileRef, bool) {
	f, ok := lc.filesIndex[objID]
	return f, ok
}

// NextObjID hands out the next object id. Object ids never get reused
// within a mount session, including ids belonging to deleted files.
func (lc *LogCore) NextObjID() (uint16, error) {
	if lc.lastObjID == 0xFFFF {
		return 0, newError(KindDiskFull, "object id space exhausted")
	}
	lc.lastObjID++
	return lc.lastObjID, nil
}

// GetStats reports free and orphaned space in bytes.
func (lc *LogCore) GetStats() (freeBytes int64, orphanedBytes int64) {
	freeBytes = int64(lc.freeClusterCount) * int64(lc.clusterSize)
	orphanedBytes = int64(lc.orphanedClusterCount) * int64(lc.clusterSize)
	return
}

// GetWearProfile returns a copy of the per-sector erase counter, for the
// CLI's heat-map diagnostic.
func (lc *LogCore) GetWearProfile() []uint32 {
	return append([]uint32(nil), lc.sectorEraseCount...)
}

// CheckIfFormatted reads every sector head marker without touching any
// in-memory state. It never requires a prior Mount.
func (lc *LogCore) CheckIfFormatted() (bool, error) {
	var b [1]byte
	for s := uint32(0); s < lc.totalSectors; s++ {
		if err := lc.driver.Read(s*lc.clustersPerSector, 0, b[:]); err != nil {
			return false, err
		}
		if !Marker(b[0]).ValidSectorHead() {
			return false, nil
		}
	}
	return true, nil
}

// Format erases the whole chip and claims every sector with the
// FormattedSector marker, leaving an empty file index.
func (lc *LogCore) Format() error {
	for _, f := range lc.filesIndex {
		if f.OpenCount > 0 {
			return newError(KindFileInUse, "cannot format: object %d is still open", f.ObjID)
		}
	}
	if err := lc.driver.EraseChip(); err != nil {
		return err
	}
	for s := uint32(0); s < lc.totalSectors; s++ {
		lc.sectorEraseCount[s]++
	}

	lc.scratch.Reset()
	lc.scratch.SetMarker(FormattedSector)
	for s := uint32(0); s < lc.totalSectors; s++ {
		if err := lc.driver.Write(s*lc.clustersPerSector, 0, lc.scratch.Bytes()[:1]); err != nil {
			return err
		}
	}

	lc.headSectorID = 0
	lc.tailClusterID = 0
	lc.freeClusterCount = lc.totalClusters
	lc.orphanedClusterCount = 0
	for i := range lc.orphanedPerSector {
		lc.orphanedPerSector[i] = 0
	}
	lc.filesIndex = make(map[uint16]*FileRef)
	lc.lastObjID = 0
	lc.cache = NewClusterCache(ClusterCacheSize)
	lc.mounted = true

	logrus.Infof("formatted device [sectors:%d clusters:%d cluster_size:%d sector_size:%d]",
		lc.totalSectors, lc.totalClusters, lc.clusterSize, lc.sectorSize)
	return nil
}

// Mount performs the single-pass reconstruction scan described in §4.C:
// it rebuilds files_index, the free/orphan counters, and the head/tail
// pointers purely from on-device marker bytes.
func (lc *LogCore) Mount() error {
	newIndex := make(map[uint16]*FileRef)
	orphanedPerSector := make([]uint32, lc.totalSectors)
	var freeCount, orphanedCount uint32
	var lastObjID uint16

	var headCandidate, tailCandidate uint32
	haveHead, haveTail := false, false
	firstCluster := true
	prevFree := true

	transition := func(clusterID uint32, free bool) {
		if firstCluster {
			firstCluster = false
			prevFree = free
			if !free {
				headCandidate = clusterID
				haveHead = true
			}
			return
		}
		switch {
		case free && !prevFree:
			tailCandidate = clusterID
			haveTail = true
		case !free && prevFree:
			headCandidate = clusterID
			haveHead = true
		}
		prevFree = free
	}

	upsert := func(objID uint16, blockID uint32, clusterID uint32, dataLength uint16) {
		f, ok := newIndex[objID]
		if !ok {
			f = &FileRef{ObjID: objID}
			newIndex[objID] = f
		}
		f.ensureBlockSlot(blockID)
		f.Blocks[blockID] = clusterID
		f.FileSize += uint32(dataLength)
	}

	var hdr [CommonHeaderSize]byte

	for sector := uint32(0); sector < lc.totalSectors; sector++ {
		sectorStart := sector * lc.clustersPerSector

		if err := lc.driver.Read(sectorStart, 0, hdr[:1]); err != nil {
			return lc.mountFail(err)
		}
		headMarker := Marker(hdr[0])
		if !headMarker.ValidSectorHead() {
			return lc.mountFail(newError(KindNotFormatted,
				"sector %d: head marker 0x%02x is not a valid sector-head marker", sector, hdr[0]))
		}

		if headMarker == FormattedSector {
			transition(sectorStart, true)
			freeCount += lc.clustersPerSector
			continue
		}

		for i := uint32(0); i < lc.clustersPerSector; i++ {
			clusterID := sectorStart + i
			if err := lc.driver.Read(clusterID, 0, hdr[:]); err != nil {
				return lc.mountFail(err)
			}
			marker := Marker(hdr[0])
			if !marker.Valid() {
				return lc.mountFail(newError(KindNotFormatted, "cluster %d: invalid marker 0x%02x", clusterID, hdr[0]))
			}

			switch marker {
			case ErasedSector, FormattedSector:
				transition(clusterID, true)
				freeCount++
			case AllocatedCluster:
				transition(clusterID, false)
				objID := byteOrder.Uint16(hdr[1:3])
				blockID := uint32(byteOrder.Uint16(hdr[3:5]))
				dataLength := byteOrder.Uint16(hdr[5:7])
				upsert(objID, blockID, clusterID, dataLength)
				if objID > lastObjID {
					lastObjID = objID
				}
			case PendingCluster, OrphanedCluster:
				transition(clusterID, false)
				orphanedCount++
				orphanedPerSector[sector]++
			}
		}
	}

	if !haveHead {
		headCandidate = 0
	}
	if !haveTail {
		tailCandidate = 0
	}

	for objID, f := range newIndex {
		if f.HasBlock0() {
			continue
		}
		for _, clusterID := range f.Blocks {
			if clusterID == unsetBlock {
				continue
			}
			if err := lc.writeMarkerOnly(clusterID, OrphanedCluster); err != nil {
				return lc.mountFail(err)
			}
			orphanedCount++
			orphanedPerSector[lc.sectorOf(clusterID)]++
		}
		delete(newIndex, objID)
	}

	lc.filesIndex = newIndex
	lc.freeClusterCount = freeCount
	lc.orphanedClusterCount = orphanedCount
	lc.orphanedPerSector = orphanedPerSector
	lc.headSectorID = lc.sectorOf(headCandidate)
	lc.tailClusterID = tailCandidate
	lc.lastObjID = lastObjID
	lc.cache = NewClusterCache(ClusterCacheSize)
	lc.mounted = true

	logrus.Infof("mounted device [files:%d free:%d orphaned:%d head_sector:%d tail_cluster:%d last_obj_id:%d]",
		len(lc.filesIndex), lc.freeClusterCount, lc.orphanedClusterCount, lc.headSectorID, lc.tailClusterID, lc.lastObjID)
	return nil
}

func (lc *LogCore) mountFail(err error) error {
	lc.mounted = false
	lc.filesIndex = make(map[uint16]*FileRef)
	logrus.Errorf("mount failed: %s", err)
	return err
}

func (lc *LogCore) writeMarkerOnly(clusterID uint32, m Marker) error {
	if err := lc.driver.Write(clusterID, 0, []byte{byte(m)}); err != nil {
		return err
	}
	lc.cache.Drop(clusterID)
	return nil
}

// MarkClusterAllocated flips a just-appended PendingCluster to
// AllocatedCluster: the second half of the crash-safe commit protocol.
func (lc *LogCore) MarkClusterAllocated(clusterID uint32) error {
	return lc.writeMarkerOnly(clusterID, AllocatedCluster)
}

// OrphanCluster flips a superseded or deleted cluster to OrphanedCluster
// and updates the orphan counters. Callers must only orphan a cluster
// after its replacement, if any, is already durably Allocated.
func (lc *LogCore) OrphanCluster(clusterID uint32) error {
	if err := lc.writeMarkerOnly(clusterID, OrphanedCluster); err != nil {
		return err
	}
	lc.orphanedClusterCount++
	lc.orphanedPerSector[lc.sectorOf(clusterID)]++
	return nil
}

// appendPending writes buf to the current tail cluster, advances the
// tail, and decrements free_cluster_count. It does not check the
// compaction threshold; callers that aren't already inside a compaction
// pass should go through WriteToLog instead.
func (lc *LogCore) appendPending(buf *ClusterBuffer) (uint32, error) {
	clusterID := lc.tailClusterID
	n := buf.MaxWrite()
	if err := lc.driver.Write(clusterID, 0, buf.Bytes()[:n]); err != nil {
		return 0, err
	}
	lc.cache.Put(clusterID, append([]byte(nil), buf.Bytes()[:n]...))
	lc.tailClusterID = (lc.tailClusterID + 1) % lc.totalClusters
	lc.freeClusterCount--
	return clusterID, nil
}

// AppendAndCommit writes buf through WriteToLog and immediately marks the
// resulting cluster allocated. Most FileOps mutations are "append the new
// version, commit it, then orphan the old one"; this is the first two
// steps of that sequence bundled for callers that never need them split.
func (lc *LogCore) AppendAndCommit(buf *ClusterBuffer) (uint32, error) {
	clusterID, err := lc.WriteToLog(buf)
	if err != nil {
		return 0, err
	}
	if err := lc.MarkClusterAllocated(clusterID); err != nil {
		return 0, err
	}
	return clusterID, nil
}

// WriteToLog is the one entry point FileOps uses to append a cluster. It
// triggers PartialCompact lazily when free space is tight, and fails with
// DiskFull if compaction couldn't make room.
func (lc *LogCore) WriteToLog(buf *ClusterBuffer) (uint32, error) {
	if !lc.compacting && lc.freeClusterCount <= lc.minFreeClusters {
		if err := lc.PartialCompact(); err != nil {
			return 0, err
		}
	}
	if lc.freeClusterCount <= lc.minFreeClusters {
		return 0, newError(KindDiskFull, "no free clusters (free=%d threshold=%d)", lc.freeClusterCount, lc.minFreeClusters)
	}
	buf.SetMarker(PendingCluster)
	return lc.appendPending(buf)
}

// ReadCluster reads a whole cluster (header sized per its own block_id,
// plus its claimed payload) into a fresh buffer, going through the
// cluster cache first.
func (lc *LogCore) ReadCluster(clusterID uint32) (*ClusterBuffer, error) {
	buf := NewClusterBuffer(lc.clusterSize)
	if cached, ok := lc.cache.Get(clusterID); ok {
		copy(buf.Bytes(), cached)
		return buf, nil
	}
	if err := lc.driver.Read(clusterID, 0, buf.Bytes()[:CommonHeaderSize]); err != nil {
		return nil, err
	}
	hdrSize := buf.HeaderSize()
	if hdrSize > CommonHeaderSize {
		if err := lc.driver.Read(clusterID, CommonHeaderSize, buf.Bytes()[CommonHeaderSize:hdrSize]); err != nil {
			return nil, err
		}
	}
	dataLen := int(buf.DataLength())
	if dataLen > 0 {
		if err := lc.driver.Read(clusterID, hdrSize, buf.Bytes()[hdrSize:hdrSize+dataLen]); err != nil {
			return nil, err
		}
	}
	lc.cache.Put(clusterID, append([]byte(nil), buf.Bytes()[:hdrSize+dataLen]...))
	return buf, nil
}

// GetSectorToCompact picks a compaction source: the head sector if it
// carries any orphans (keeps the log contiguous), otherwise whichever
// non-tail sector has the most orphans. Returns ok=false if nothing is
// worth compacting.
func (lc *LogCore) GetSectorToCompact() (uint32, bool) {
	if lc.orphanedPerSector[lc.headSectorID] > 0 {
		return lc.headSectorID, true
	}
	tailSector := lc.sectorOf(lc.tailClusterID)
	var best uint32
	var bestCount uint32
	found := false
	for s := uint32(0); s < lc.totalSectors; s++ {
		if s == tailSector {
			continue
		}
		if lc.orphanedPerSector[s] > bestCount {
			bestCount = lc.orphanedPerSector[s]
			best = s
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return best, true
}

// MigrateSector copies every still-live cluster out of fromSector to the
// current tail, then erases and re-formats fromSector. Each migrated
// cluster goes through the same pending->allocated protocol as a normal
// write, so a crash mid-migration leaves mount free to discard the
// half-written copy and keep using the untouched original.
func (lc *LogCore) MigrateSector(fromSector uint32) error {
	if lc.sectorOf(lc.tailClusterID) == fromSector {
		return newError(KindArgumentOutOfRange, "migrate source and destination are both sector %d", fromSector)
	}

	sectorStart := fromSector * lc.clustersPerSector
	var marker [1]byte
	for i := uint32(0); i < lc.clustersPerSector; i++ {
		clusterID := sectorStart + i
		if err := lc.driver.Read(clusterID, 0, marker[:]); err != nil {
			return err
		}
		if Marker(marker[0]) != AllocatedCluster {
			continue
		}

		buf, err := lc.ReadCluster(clusterID)
		if err != nil {
			return err
		}
		objID := buf.ObjID()
		blockID := buf.BlockID()

		buf.SetMarker(PendingCluster)
		toCluster, err := lc.appendPending(buf)
		if err != nil {
			return err
		}
		if err := lc.MarkClusterAllocated(toCluster); err != nil {
			return err
		}

		if f, ok := lc.filesIndex[objID]; ok {
			f.ensureBlockSlot(blockID)
			f.Blocks[blockID] = toCluster
		} else {
			// Defensive: the file vanished between the marker read above
			// and the migration write. Shouldn't happen under the
			// single-writer model, but leave no live-looking orphan cluster
			// behind if it does.
			if err := lc.OrphanCluster(toCluster); err != nil {
				return err
			}
		}
	}

	oldOrphaned := lc.orphanedPerSector[fromSector]
	if err := lc.driver.EraseSector(fromSector); err != nil {
		return err
	}
	lc.sectorEraseCount[fromSector]++
	lc.orphanedPerSector[fromSector] = 0
	lc.orphanedClusterCount -= oldOrphaned
	lc.freeClusterCount += lc.clustersPerSector

	for i := uint32(0); i < lc.clustersPerSector; i++ {
		lc.cache.Drop(sectorStart + i)
	}

	lc.scratch.Reset()
	lc.scratch.SetMarker(FormattedSector)
	if err := lc.driver.Write(sectorStart, 0, lc.scratch.Bytes()[:1]); err != nil {
		return err
	}

	logrus.Debugf("migrated sector %d [freed:%d new_free:%d]", fromSector, oldOrphaned, lc.freeClusterCount)
	return nil
}

// Compact runs until no orphaned clusters remain. Each pass also migrates
// the head sector whenever it wasn't already the chosen source, which
// bounds how unevenly any one sector gets re-erased (§8 invariant 7).
func (lc *LogCore) Compact() error {
	if lc.compacting {
		return nil
	}
	lc.compacting = true
	defer func() { lc.compacting = false }()

	for lc.orphanedClusterCount > 0 {
		sector, ok := lc.GetSectorToCompact()
		if !ok {
			break
		}
		if err := lc.MigrateSector(sector); err != nil {
			if Is(err, KindArgumentOutOfRange) {
				break
			}
			return err
		}
		if sector != lc.headSectorID {
			if err := lc.MigrateSector(lc.headSectorID); err != nil {
				if Is(err, KindArgumentOutOfRange) {
					break
				}
				return err
			}
		}
		lc.headSectorID = (lc.headSectorID + 1) % lc.totalSectors
	}
	return nil
}

// PartialCompact is the lazy form invoked from the write path: it stops
// as soon as there's enough free space again, rather than reclaiming
// every orphan on the device.
func (lc *LogCore) PartialCompact() error {
	if lc.compacting {
		return nil
	}
	needsWork := func() bool {
		return lc.freeClusterCount <= lc.minFreeClusters && lc.orphanedClusterCount >= lc.clustersPerSector
	}
	if !needsWork() {
		return nil
	}

	lc.compacting = true
	defer func() { lc.compacting = false }()

	for needsWork() {
		sector, ok := lc.GetSectorToCompact()
		if !ok {
			break
		}
		if err := lc.MigrateSector(sector); err != nil {
			if Is(err, KindArgumentOutOfRange) {
				break
			}
			return err
		}
		if sector != lc.headSectorID {
			if err := lc.MigrateSector(lc.headSectorID); err != nil {
				if Is(err, KindArgumentOutOfRange) {
					break
				}
				return err
			}
		}
		lc.headSectorID = (lc.headSectorID + 1) % lc.totalSectors
	}
	return nil
}
