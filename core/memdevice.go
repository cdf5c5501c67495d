/*
 memdevice.go

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

import "fmt"

// MemDevice is a []byte-backed BlockDriver. It has no durability past the
// process and exists for unit tests and the FaultInjectingDevice harness,
// where real flash timing and persistence are not the thing under test.
type MemDevice struct {
	data        []byte
	sectorSize  int
	clusterSize int
}

// NewMemDevice allocates an all-erased (0xFF) device of deviceSize bytes.
func NewMemDevice(deviceSize, sectorSize, clusterSize int) *MemDevice {
	d := &MemDevice{
		data:        make([]byte, deviceSize),
		sectorSize:  sectorSize,
		clusterSize: clusterSize,
	}
	for i := range d.data {
		d.data[i] = 0xFF
	}
	return d
}

func (d *MemDevice) clusterOffset(clusterID uint32) int64 {
	return int64(clusterID) * int64(d.clusterSize)
}

func (d *MemDevice) Read(clusterID uint32, offset int, dst []byte) error {
	pos := d.clusterOffset(clusterID) + int64(offset)
	if pos < 0 || pos+int64(len(dst)) > int64(len(d.data)) {
		return fmt.Errorf("memdevice: read out of range [cluster:%d offset:%d len:%d]", clusterID, offset, len(dst))
	}
	copy(dst, d.data[pos:pos+int64(len(dst))])
	return nil
}

func (d *MemDevice) Write(clusterID uint32, offset int, src []byte) error {
	pos := d.clusterOffset(clusterID) + int64(offset)
	if pos < 0 || pos+int64(len(src)) > int64(len(d.data)) {
		return fmt.Errorf("memdevice: write out of range [cluster:%d offset:%d len:%d]", clusterID, offset, len(src))
	}
	for i, b := range src {
		// a real program can only clear bits; enforce that here so a bug
		// in the core (writing 1-bits into an already-programmed cluster)
		// fails loudly in tests instead of silently "working" on RAM.
		d.data[pos+int64(i)] &= b
	}
	return nil
}

func (d *MemDevice) EraseSector(sectorID uint32) error {
	start := int64(sectorID) * int64(d.sectorSize)
	end := start + int64(d.sectorSize)
	if start < 0 || end > int64(len(d.data)) {
		return fmt.Errorf("memdevice: erase out of range [sector:%d]", sectorID)
	}
	for i := start; i < end; i++ {
		d.data[i] = 0xFF
	}
	return nil
}

func (d *MemDevice) EraseChip() error {
	for i := range d.data {
		d.data[i] = 0xFF
	}
	return nil
}

func (d *MemDevice) DeviceSize() int64  { return int64(len(d.data)) }
func (d *MemDevice) SectorSize() int    { return d.sectorSize }
func (d *MemDevice) ClusterSize() int   { return d.clusterSize }
