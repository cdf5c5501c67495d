/*
 fileref.go

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

// unsetBlock marks a block slot that has not been filled in yet. Cluster id
// 0 is a legal cluster id, so a zero value can't serve as the sentinel.
const unsetBlock = ^uint32(0)

// FileRef is the in-memory record of one file's cluster chain. It never
// touches the device itself; LogCore and the fs package mutate it in
// lockstep with the log writes that make those mutations durable.
type FileRef struct {
	ObjID     uint16
	Blocks    []uint32 // block_id -> cluster id, dense, starts at 0
	FileSize  uint32
	OpenCount int
}

func (f *FileRef) ensureBlockSlot(blockID uint32) {
	for uint32(len(f.Blocks)) <= blockID {
		f.Blocks = append(f.Blocks, unsetBlock)
	}
}

// HasBlock0 reports whether block 0 (the FileCluster carrying the name and
// creation time) has been filled in.
func (f *FileRef) HasBlock0() bool {
	return len(f.Blocks) > 0 && f.Blocks[0] != unsetBlock
}
