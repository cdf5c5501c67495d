/*
 filedevice.go

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
	"bytes"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// FileDevice is a single *os.File-backed BlockDriver. Unlike the teacher's
// sharded VolumeFiles (one os.File per block group, selected by group id),
// a raw NOR chip is one addressable space, so there is exactly one
// backing file here; every Read/Write/EraseSector is a seek+I/O against it.
type FileDevice struct {
	file        *os.File
	deviceSize  int64
	sectorSize  int
	clusterSize int
}

// OpenFileDevice opens (or creates) path as a block device backing file of
// exactly deviceSize bytes. A freshly created file is filled with 0xFF,
// the erased-flash value, the same way the teacher zero-fills a freshly
// created volume file in VolumeFiles.checkReady before writing real data
// into it.
func OpenFileDevice(path string, deviceSize int64, sectorSize, clusterSize int) (*FileDevice, error) {
	if sectorSize <= 0 || clusterSize <= 0 || sectorSize%clusterSize != 0 {
		return nil, fmt.Errorf("filedevice: cluster_size must divide sector_size")
	}
	if deviceSize%int64(sectorSize) != 0 {
		return nil, fmt.Errorf("filedevice: device_size must be a multiple of sector_size")
	}

	d := &FileDevice{deviceSize: deviceSize, sectorSize: sectorSize, clusterSize: clusterSize}

	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.Size() != deviceSize {
			return nil, fmt.Errorf("filedevice: %s is %d bytes, want %d", path, info.Size(), deviceSize)
		}
		d.file, err = os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return nil, err
		}
		logrus.Debugf("opened existing block device file [%s, size:%d]", path, deviceSize)
	case os.IsNotExist(err):
		d.file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, err
		}
		if err := fillErased(d.file, deviceSize); err != nil {
			d.file.Close()
			return nil, err
		}
		if err := d.file.Sync(); err != nil {
			d.file.Close()
			return nil, err
		}
		logrus.Infof("created new block device file [%s, size:%d]", path, deviceSize)
	default:
		return nil, err
	}
	return d, nil
}

func fillErased(f *os.File, size int64) error {
	const chunk = 1 << 20
	buf := bytes.Repeat([]byte{0xFF}, chunk)
	var written int64
	for written < size {
		n := chunk
		if remaining := size - written; remaining < int64(chunk) {
			n = int(remaining)
		}
		if _, err := f.WriteAt(buf[:n], written); err != nil {
			return err
		}
		written += int64(n)
	}
	return nil
}

func (d *FileDevice) clusterOffset(clusterID uint32) int64 {
	return int64(clusterID) * int64(d.clusterSize)
}

func (d *FileDevice) Read(clusterID uint32, offset int, dst []byte) error {
	pos := d.clusterOffset(clusterID) + int64(offset)
	_, err := d.file.ReadAt(dst, pos)
	return err
}

func (d *FileDevice) Write(clusterID uint32, offset int, src []byte) error {
	pos := d.clusterOffset(clusterID) + int64(offset)
	old := make([]byte, len(src))
	if _, err := d.file.ReadAt(old, pos); err != nil {
		return err
	}
	for i, b := range src {
		old[i] &= b
	}
	if _, err := d.file.WriteAt(old, pos); err != nil {
		return err
	}
	return d.file.Sync()
}

func (d *FileDevice) EraseSector(sectorID uint32) error {
	start := int64(sectorID) * int64(d.sectorSize)
	buf := bytes.Repeat([]byte{0xFF}, d.sectorSize)
	if _, err := d.file.WriteAt(buf, start); err != nil {
		return err
	}
	logrus.Debugf("erased sector %d", sectorID)
	return d.file.Sync()
}

func (d *FileDevice) EraseChip() error {
	if err := fillErased(d.file, d.deviceSize); err != nil {
		return err
	}
	logrus.Infof("erased whole chip [%d bytes]", d.deviceSize)
	return d.file.Sync()
}

func (d *FileDevice) DeviceSize() int64 { return d.deviceSize }
func (d *FileDevice) SectorSize() int   { return d.sectorSize }
func (d *FileDevice) ClusterSize() int  { return d.clusterSize }

// Close releases the backing file handle.
func (d *FileDevice) Close() error {
	return d.file.Close()
}
