/*
 fs.go

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

package fs

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coreflash/flashfs/core"
	"github.com/sirupsen/logrus"
)

// FileSystem is the public, name-based API over a LogCore. It is
// single-writer, coarse-grained-locked: every exported method acquires mu
// at entry and releases it on every exit path, including errors. Stream
// methods take the same lock directly rather than calling back into these
// entry points, so there is never more than one acquisition per call.
type FileSystem struct {
	mu sync.Mutex
	lc *core.LogCore
}

// NewFileSystem validates driver geometry and returns an unmounted
// FileSystem. Call Format or Mount before any other operation.
func NewFileSystem(driver core.BlockDriver) (*FileSystem, error) {
	lc, err := core.NewLogCore(driver)
	if err != nil {
		return nil, err
	}
	return &FileSystem{lc: lc}, nil
}

func errNotMounted() error {
	return &core.Error{Kind: core.KindNotMounted, Msg: "file system is not mounted"}
}

func errNotFound(name string) error {
	return &core.Error{Kind: core.KindFileNotFound, Msg: fmt.Sprintf("file %q not found", name)}
}

func errAlreadyExists(name string) error {
	return &core.Error{Kind: core.KindPathAlreadyExists, Msg: fmt.Sprintf("%q already exists", name)}
}

func (fsys *FileSystem) requireMounted() error {
	if !fsys.lc.Mounted() {
		return errNotMounted()
	}
	return nil
}

// CheckIfFormatted inspects the raw device without requiring a prior Mount.
func (fsys *FileSystem) CheckIfFormatted() (bool, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.lc.CheckIfFormatted()
}

// Format erases the device and leaves it mounted and empty.
func (fsys *FileSystem) Format() error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.lc.Format()
}

// Mount reconstructs the file index from the raw device.
func (fsys *FileSystem) Mount() error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.lc.Mount()
}

// Compact reclaims every orphaned cluster currently on the device.
func (fsys *FileSystem) Compact() error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.requireMounted(); err != nil {
		return err
	}
	return fsys.lc.Compact()
}

// GetStats reports free and orphaned space in bytes.
func (fsys *FileSystem) GetStats() (freeBytes int64, orphanedBytes int64, err error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err = fsys.requireMounted(); err != nil {
		return 0, 0, err
	}
	freeBytes, orphanedBytes = fsys.lc.GetStats()
	return
}

// GetWearProfile exposes the per-sector erase counters, for the CLI's
// heat-map diagnostic.
func (fsys *FileSystem) GetWearProfile() []uint32 {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.lc.GetWearProfile()
}

func validateFilename(name string) error {
	if len(name) == 0 || len(name) > core.MaxFilenameLength {
		return &core.Error{Kind: core.KindArgumentOutOfRange,
			Msg: fmt.Sprintf("filename %q must be 1..%d bytes", name, core.MaxFilenameLength)}
	}
	return nil
}

func sameName(a, b string) bool {
	return bytes.Equal(bytes.ToUpper([]byte(a)), bytes.ToUpper([]byte(b)))
}

// findByName is the only way a name resolves to a FileRef: a linear scan
// over files_index reading block 0's filename field off the device, per
// §4.D ("no in-memory name cache"). Callers must already hold mu.
func (fsys *FileSystem) findByName(name string) (*core.FileRef, error) {
	for _, f := range fsys.lc.Files() {
		buf, err := fsys.lc.ReadCluster(f.Blocks[0])
		if err != nil {
			return nil, err
		}
		if sameName(buf.Filename(), name) {
			return f, nil
		}
	}
	return nil, errNotFound(name)
}

// Exists reports whether name is present. It never returns an error: an
// unmounted file system simply has no files.
func (fsys *FileSystem) Exists(name string) bool {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if !fsys.lc.Mounted() {
		return false
	}
	_, err := fsys.findByName(name)
	return err == nil
}

// GetFiles returns every filename, sorted ascending — map iteration order
// is never exposed, the same discipline the teacher's SortFileNameAscend
// applies to os.FileInfo before returning a directory listing.
func (fsys *FileSystem) GetFiles() ([]string, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.requireMounted(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(fsys.lc.Files()))
	for _, f := range fsys.lc.Files() {
		buf, err := fsys.lc.ReadCluster(f.Blocks[0])
		if err != nil {
			return nil, err
		}
		names = append(names, buf.Filename())
	}
	sort.Strings(names)
	return names, nil
}

func (fsys *FileSystem) GetFileSize(name string) (int64, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.requireMounted(); err != nil {
		return 0, err
	}
	f, err := fsys.findByName(name)
	if err != nil {
		return 0, err
	}
	return int64(f.FileSize), nil
}

func (fsys *FileSystem) GetFileCreationTime(name string) (time.Time, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.requireMounted(); err != nil {
		return time.Time{}, err
	}
	f, err := fsys.findByName(name)
	if err != nil {
		return time.Time{}, err
	}
	buf, err := fsys.lc.ReadCluster(f.Blocks[0])
	if err != nil {
		return time.Time{}, err
	}
	return buf.CreationTime(), nil
}

// maxFileDataLength and maxDataDataLength are F and D from §4.D's
// positional arithmetic: how many payload bytes fit in block 0 versus
// any later block, for the device's current cluster size.
func (fsys *FileSystem) maxFileDataLength() int { return fsys.lc.ClusterSize() - core.FileClusterHeaderSize }
func (fsys *FileSystem) maxDataDataLength() int { return fsys.lc.ClusterSize() - core.DataClusterHeaderSize }

func (fsys *FileSystem) blockForPosition(position int64) (blockID uint32, clusterOffset int) {
	f := int64(fsys.maxFileDataLength())
	if position < f {
		return 0, int(position)
	}
	d := int64(fsys.maxDataDataLength())
	adj := position - f
	return uint32(adj/d) + 1, int(adj % d)
}

// growBlocks extends a FileRef's block list up to and including blockID.
// Grown slots are always overwritten with a real cluster id immediately
// by the caller, so a zero placeholder is safe here (unlike Mount's
// reconstruction, which must tell "never seen" apart from cluster 0).
func growBlocks(blocks []uint32, blockID uint32) []uint32 {
	for uint32(len(blocks)) <= blockID {
		blocks = append(blocks, 0)
	}
	return blocks
}

// createFile implements §4.D Create: delete any existing file of the same
// name, allocate an obj_id, append and commit a block-0 FileCluster, and
// install the FileRef. Callers must already hold mu.
func (fsys *FileSystem) createFile(name string) (*core.FileRef, error) {
	if err := validateFilename(name); err != nil {
		return nil, err
	}
	if existing, err := fsys.findByName(name); err == nil {
		if err := fsys.deleteFileRef(existing); err != nil {
			return nil, err
		}
	}

	objID, err := fsys.lc.NextObjID()
	if err != nil {
		return nil, err
	}

	buf := fsys.lc.NewClusterBuffer()
	buf.Reset()
	buf.SetObjID(objID)
	buf.SetBlockID(0)
	buf.SetDataLength(0)
	buf.SetFilename(name)
	buf.SetCreationTime(time.Now())

	clusterID, err := fsys.lc.AppendAndCommit(buf)
	if err != nil {
		return nil, err
	}

	f := &core.FileRef{ObjID: objID, Blocks: []uint32{clusterID}}
	fsys.lc.Files()[objID] = f
	logrus.Debugf("created file [name:%s obj_id:%d cluster:%d]", name, objID, clusterID)
	return f, nil
}

// deleteFileRef orphans every block of f and removes it from the index.
// Callers must already hold mu.
func (fsys *FileSystem) deleteFileRef(f *core.FileRef) error {
	if f.OpenCount > 0 {
		return &core.Error{Kind: core.KindFileInUse, Msg: fmt.Sprintf("object %d is open", f.ObjID)}
	}
	for _, clusterID := range f.Blocks {
		if err := fsys.lc.OrphanCluster(clusterID); err != nil {
			return err
		}
	}
	delete(fsys.lc.Files(), f.ObjID)
	return nil
}

func (fsys *FileSystem) Delete(name string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.requireMounted(); err != nil {
		return err
	}
	f, err := fsys.findByName(name)
	if err != nil {
		return err
	}
	if err := fsys.deleteFileRef(f); err != nil {
		return err
	}
	logrus.Debugf("deleted file [name:%s obj_id:%d]", name, f.ObjID)
	return nil
}

// Move implements §4.D Move: rewrite block 0 under the new name, orphan
// the old block-0 cluster once the new one is committed.
func (fsys *FileSystem) Move(src, dst string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.requireMounted(); err != nil {
		return err
	}
	if err := validateFilename(dst); err != nil {
		return err
	}
	if _, err := fsys.findByName(dst); err == nil {
		return errAlreadyExists(dst)
	}
	f, err := fsys.findByName(src)
	if err != nil {
		return err
	}

	buf, err := fsys.lc.ReadCluster(f.Blocks[0])
	if err != nil {
		return err
	}
	buf.SetFilename(dst)
	newCluster, err := fsys.lc.AppendAndCommit(buf)
	if err != nil {
		return err
	}
	old := f.Blocks[0]
	f.Blocks[0] = newCluster
	if err := fsys.lc.OrphanCluster(old); err != nil {
		return err
	}
	logrus.Debugf("moved file [%s -> %s obj_id:%d]", src, dst, f.ObjID)
	return nil
}

// Copy implements §4.D Copy: re-append every block of src under a new
// obj_id, stamping block 0 with dst's filename and a fresh creation time.
func (fsys *FileSystem) Copy(src, dst string, overwrite bool) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.requireMounted(); err != nil {
		return err
	}
	if err := validateFilename(dst); err != nil {
		return err
	}
	srcRef, err := fsys.findByName(src)
	if err != nil {
		return err
	}
	if existing, err := fsys.findByName(dst); err == nil {
		if !overwrite {
			return errAlreadyExists(dst)
		}
		if err := fsys.deleteFileRef(existing); err != nil {
			return err
		}
	}

	objID, err := fsys.lc.NextObjID()
	if err != nil {
		return err
	}
	now := time.Now()
	newBlocks := make([]uint32, 0, len(srcRef.Blocks))
	var fileSize uint32
	for blockID, clusterID := range srcRef.Blocks {
		buf, err := fsys.lc.ReadCluster(clusterID)
		if err != nil {
			return err
		}
		buf.SetObjID(objID)
		if blockID == 0 {
			buf.SetFilename(dst)
			buf.SetCreationTime(now)
		}
		newCluster, err := fsys.lc.AppendAndCommit(buf)
		if err != nil {
			return err
		}
		newBlocks = append(newBlocks, newCluster)
		fileSize += uint32(buf.DataLength())
	}
	fsys.lc.Files()[objID] = &core.FileRef{ObjID: objID, Blocks: newBlocks, FileSize: fileSize}
	logrus.Debugf("copied file [%s -> %s obj_id:%d blocks:%d]", src, dst, objID, len(newBlocks))
	return nil
}

// readAt implements §4.D Read. Callers must already hold mu.
func (fsys *FileSystem) readAt(f *core.FileRef, position int64, dst []byte) (int, error) {
	if position >= int64(f.FileSize) {
		return 0, nil
	}
	remaining := len(dst)
	if avail := int64(f.FileSize) - position; int64(remaining) > avail {
		remaining = int(avail)
	}

	blockID, clusterOffset := fsys.blockForPosition(position)
	total := 0
	for total < remaining {
		if int(blockID) >= len(f.Blocks) {
			break
		}
		buf, err := fsys.lc.ReadCluster(f.Blocks[blockID])
		if err != nil {
			return total, err
		}
		payload := buf.Payload()
		if clusterOffset >= len(payload) {
			break
		}
		n := remaining - total
		if avail := len(payload) - clusterOffset; n > avail {
			n = avail
		}
		copy(dst[total:total+n], payload[clusterOffset:clusterOffset+n])
		total += n
		blockID++
		clusterOffset = 0
	}
	return total, nil
}

// writeAt implements §4.D Write: new-cluster-first, then invalidate-old,
// for every block the write touches. Callers must already hold mu.
func (fsys *FileSystem) writeAt(f *core.FileRef, position int64, data []byte) (int, error) {
	if position > int64(f.FileSize) {
		return 0, &core.Error{Kind: core.KindWritePastEnd,
			Msg: fmt.Sprintf("write position %d past file size %d", position, f.FileSize)}
	}

	blockID, clusterOffset := fsys.blockForPosition(position)
	written := 0
	for written < len(data) {
		capacity := fsys.maxDataDataLength()
		if blockID == 0 {
			capacity = fsys.maxFileDataLength()
		}
		chunk := len(data) - written
		if room := capacity - clusterOffset; chunk > room {
			chunk = room
		}

		if int(blockID) < len(f.Blocks) {
			buf, err := fsys.lc.ReadCluster(f.Blocks[blockID])
			if err != nil {
				return written, err
			}
			currentSize := int(buf.DataLength())
			buf.SetPayload(clusterOffset, data[written:written+chunk])
			excess := int(buf.DataLength()) - currentSize

			newCluster, err := fsys.lc.AppendAndCommit(buf)
			if err != nil {
				return written, err
			}
			old := f.Blocks[blockID]
			f.Blocks[blockID] = newCluster
			if err := fsys.lc.OrphanCluster(old); err != nil {
				return written, err
			}
			if excess > 0 {
				f.FileSize += uint32(excess)
			}
		} else {
			buf := fsys.lc.NewClusterBuffer()
			buf.Reset()
			buf.SetObjID(f.ObjID)
			buf.SetBlockID(blockID)
			buf.SetDataLength(0)
			buf.SetPayload(0, data[written:written+chunk])

			newCluster, err := fsys.lc.AppendAndCommit(buf)
			if err != nil {
				return written, err
			}
			f.Blocks = growBlocks(f.Blocks, blockID)
			f.Blocks[blockID] = newCluster
			f.FileSize += uint32(chunk)
		}

		written += chunk
		blockID++
		clusterOffset = 0
	}
	return written, nil
}

// truncateLocked implements §4.D Truncate. position == file_size is a
// no-op (Open Question resolved: see DESIGN.md). Callers must already
// hold mu.
func (fsys *FileSystem) truncateLocked(f *core.FileRef, position int64) error {
	if position > int64(f.FileSize) {
		return &core.Error{Kind: core.KindWritePastEnd,
			Msg: fmt.Sprintf("truncate position %d past file size %d", position, f.FileSize)}
	}
	if position == int64(f.FileSize) {
		return nil
	}

	blockID, clusterOffset := fsys.blockForPosition(position)
	if int(blockID) < len(f.Blocks) && (clusterOffset > 0 || blockID == 0) {
		buf, err := fsys.lc.ReadCluster(f.Blocks[blockID])
		if err != nil {
			return err
		}
		buf.SetDataLength(uint16(clusterOffset))
		newCluster, err := fsys.lc.AppendAndCommit(buf)
		if err != nil {
			return err
		}
		old := f.Blocks[blockID]
		f.Blocks[blockID] = newCluster
		if err := fsys.lc.OrphanCluster(old); err != nil {
			return err
		}
		blockID++
	}

	for i := int(blockID); i < len(f.Blocks); i++ {
		if err := fsys.lc.OrphanCluster(f.Blocks[i]); err != nil {
			return err
		}
	}
	f.Blocks = f.Blocks[:blockID]
	f.FileSize = uint32(position)
	return nil
}

// Create truncates-or-creates name and returns it open for writing.
func (fsys *FileSystem) Create(name string, bufferSize int) (*Stream, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.requireMounted(); err != nil {
		return nil, err
	}
	f, err := fsys.createFile(name)
	if err != nil {
		return nil, err
	}
	f.OpenCount++
	return newStream(fsys, f, bufferSize), nil
}

// Open implements the six OpenMode variants described in §6. On any
// downstream failure after the stream would otherwise be constructed, the
// partially-built state is unwound before the error is returned.
func (fsys *FileSystem) Open(name string, mode OpenMode, bufferSize int) (*Stream, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.requireMounted(); err != nil {
		return nil, err
	}

	existing, lookupErr := fsys.findByName(name)

	switch mode {
	case ModeCreateNew:
		if lookupErr == nil {
			return nil, errAlreadyExists(name)
		}
		return fsys.openNewLocked(name, bufferSize)
	case ModeCreate:
		return fsys.openNewLocked(name, bufferSize)
	case ModeOpen:
		if lookupErr != nil {
			return nil, lookupErr
		}
		existing.OpenCount++
		return newStream(fsys, existing, bufferSize), nil
	case ModeOpenOrCreate:
		if lookupErr != nil {
			return fsys.openNewLocked(name, bufferSize)
		}
		existing.OpenCount++
		return newStream(fsys, existing, bufferSize), nil
	case ModeTruncate:
		if lookupErr != nil {
			return nil, lookupErr
		}
		existing.OpenCount++
		if err := fsys.truncateLocked(existing, 0); err != nil {
			existing.OpenCount--
			return nil, err
		}
		return newStream(fsys, existing, bufferSize), nil
	case ModeAppend:
		var f *core.FileRef
		if lookupErr != nil {
			s, err := fsys.openNewLocked(name, bufferSize)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
		f = existing
		f.OpenCount++
		s := newStream(fsys, f, bufferSize)
		s.pos = int64(f.FileSize)
		return s, nil
	default:
		return nil, &core.Error{Kind: core.KindArgumentOutOfRange, Msg: fmt.Sprintf("unknown open mode %d", mode)}
	}
}

func (fsys *FileSystem) openNewLocked(name string, bufferSize int) (*Stream, error) {
	f, err := fsys.createFile(name)
	if err != nil {
		return nil, err
	}
	f.OpenCount++
	return newStream(fsys, f, bufferSize), nil
}

func (fsys *FileSystem) ReadAllBytes(name string) ([]byte, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.requireMounted(); err != nil {
		return nil, err
	}
	f, err := fsys.findByName(name)
	if err != nil {
		return nil, err
	}
	data := make([]byte, f.FileSize)
	if _, err := fsys.readAt(f, 0, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (fsys *FileSystem) WriteAllBytes(name string, data []byte) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.requireMounted(); err != nil {
		return err
	}
	f, err := fsys.createFile(name)
	if err != nil {
		return err
	}
	_, err = fsys.writeAt(f, 0, data)
	return err
}
