/*
 cluster.go

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
	"encoding/binary"
	"time"
)

const (
	// CommonHeaderSize is marker(1) | obj_id(2) | block_id(2) | data_length(2).
	CommonHeaderSize = 7

	MaxFilenameLength = 16

	filenameLenFieldSize  = 2
	creationTimeFieldSize = 8

	// FileClusterHeaderSize is CommonHeaderSize plus the filename and
	// creation-time fields carried only by block 0 of a file.
	FileClusterHeaderSize = CommonHeaderSize + filenameLenFieldSize + MaxFilenameLength + creationTimeFieldSize

	// DataClusterHeaderSize is the header size for blocks 1..n.
	DataClusterHeaderSize = CommonHeaderSize

	// FilenameLengthOffset is the byte offset of the filename_length field
	// within a FileCluster, i.e. immediately after the common header.
	FilenameLengthOffset = CommonHeaderSize

	filenameOffset     = FilenameLengthOffset + filenameLenFieldSize
	creationTimeOffset = filenameOffset + MaxFilenameLength
)

var byteOrder = binary.LittleEndian

// ClusterBuffer is a typed view over the bytes of exactly one cluster. It
// performs no I/O; BlockDriver.Read/Write move its backing array on and
// off the device.
type ClusterBuffer struct {
	buf []byte
}

// NewClusterBuffer allocates a scratch buffer sized to one cluster.
func NewClusterBuffer(clusterSize int) *ClusterBuffer {
	return &ClusterBuffer{buf: make([]byte, clusterSize)}
}

// Bytes returns the backing array. Callers must not retain it past the
// locked operation that obtained it.
func (c *ClusterBuffer) Bytes() []byte { return c.buf }

// Reset clears the buffer to all-ones, mirroring an erased cluster.
func (c *ClusterBuffer) Reset() {
	for i := range c.buf {
		c.buf[i] = 0xFF
	}
}

func (c *ClusterBuffer) Marker() Marker         { return Marker(c.buf[0]) }
func (c *ClusterBuffer) SetMarker(m Marker)     { c.buf[0] = byte(m) }
func (c *ClusterBuffer) ObjID() uint16          { return byteOrder.Uint16(c.buf[1:3]) }
func (c *ClusterBuffer) SetObjID(id uint16)     { byteOrder.PutUint16(c.buf[1:3], id) }
func (c *ClusterBuffer) BlockID() uint32        { return uint32(byteOrder.Uint16(c.buf[3:5])) }
func (c *ClusterBuffer) DataLength() uint16     { return byteOrder.Uint16(c.buf[5:7]) }
func (c *ClusterBuffer) SetDataLength(n uint16) { byteOrder.PutUint16(c.buf[5:7], n) }

// SetBlockID sets the block_id field. block_id must fit in 16 bits per the
// on-device header layout (files are capped well below that by §1
// non-goals).
func (c *ClusterBuffer) SetBlockID(id uint32) {
	byteOrder.PutUint16(c.buf[3:5], uint16(id))
}

// MaxWrite is the logical cursor of how many leading bytes of the buffer
// are meaningful for the next log write: header plus whatever data_length
// currently claims. Every setter that can change block_id or data_length
// changes what this returns; there is nothing to track separately.
func (c *ClusterBuffer) MaxWrite() int {
	return c.HeaderSize() + int(c.DataLength())
}

// IsFileCluster reports whether this buffer's block_id marks it as block 0
// of a file (carrying filename + creation time) rather than a plain
// DataCluster.
func (c *ClusterBuffer) IsFileCluster() bool { return c.BlockID() == 0 }

// HeaderSize returns the header size implied by the current block_id.
func (c *ClusterBuffer) HeaderSize() int {
	if c.IsFileCluster() {
		return FileClusterHeaderSize
	}
	return DataClusterHeaderSize
}

func (c *ClusterBuffer) FilenameLength() int {
	return int(byteOrder.Uint16(c.buf[FilenameLengthOffset : FilenameLengthOffset+2]))
}

// SetFilename writes a name of at most MaxFilenameLength bytes into the
// fixed-width filename field, zero-padding the remainder so stale bytes
// from a previous name never leak through filename_length.
func (c *ClusterBuffer) SetFilename(name string) {
	n := len(name)
	byteOrder.PutUint16(c.buf[FilenameLengthOffset:FilenameLengthOffset+2], uint16(n))
	field := c.buf[filenameOffset : filenameOffset+MaxFilenameLength]
	copy(field, name)
	for i := n; i < MaxFilenameLength; i++ {
		field[i] = 0
	}
}

func (c *ClusterBuffer) Filename() string {
	n := c.FilenameLength()
	if n > MaxFilenameLength {
		n = MaxFilenameLength
	}
	return string(c.buf[filenameOffset : filenameOffset+n])
}

func (c *ClusterBuffer) SetCreationTime(t time.Time) {
	byteOrder.PutUint64(c.buf[creationTimeOffset:creationTimeOffset+8], uint64(t.Unix()))
}

func (c *ClusterBuffer) CreationTime() time.Time {
	sec := byteOrder.Uint64(c.buf[creationTimeOffset : creationTimeOffset+8])
	return time.Unix(int64(sec), 0)
}

// Payload returns the meaningful payload bytes: HeaderSize() .. HeaderSize()+DataLength().
func (c *ClusterBuffer) Payload() []byte {
	off := c.HeaderSize()
	return c.buf[off : off+int(c.DataLength())]
}

// SetPayload copies data into the payload region starting at the given
// in-payload offset and grows data_length if the write extends past the
// previous end, mirroring the "excess" computation in the write path.
func (c *ClusterBuffer) SetPayload(offset int, data []byte) {
	off := c.HeaderSize()
	copy(c.buf[off+offset:], data)
	end := offset + len(data)
	if end > int(c.DataLength()) {
		c.SetDataLength(uint16(end))
	}
}
