/*
 device.go

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

// BlockDriver is the one polymorphism point of the core: a uniform
// read/write/erase contract over a raw block device. A successful Write
// is durable; a successful EraseSector leaves every byte of the sector
// in the erased state (0xFF).
type BlockDriver interface {
	Read(clusterID uint32, offset int, dst []byte) error
	Write(clusterID uint32, offset int, src []byte) error
	EraseSector(sectorID uint32) error
	EraseChip() error

	DeviceSize() int64
	SectorSize() int
	ClusterSize() int
}
