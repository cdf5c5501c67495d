/*
 faultdevice.go

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

import "errors"

// ErrInjectedFault is returned by FaultInjectingDevice once the configured
// write budget is exhausted.
var ErrInjectedFault = errors.New("faultdevice: injected fault")

// FaultInjectingDevice wraps another BlockDriver and simulates power loss
// partway through a single Write: the first failAfter writes pass through
// untouched, the failing write is applied only to its first torn bytes
// (or not at all), and every write after that returns ErrInjectedFault.
// This is the harness §8 invariant 4 (crash injection) is tested against.
type FaultInjectingDevice struct {
	inner     BlockDriver
	failAfter int
	tornBytes int
	count     int
	Tripped   bool
}

// NewFaultInjectingDevice fails the (failAfter+1)th Write call. If
// tornBytes is non-negative, that many bytes of the failing write are
// still applied before the fault (modeling a write that was mid-flight
// when power died); -1 applies the full write before reporting a fault on
// the call after it, which is only useful for testing "successful write,
// then truncate" style faults.
func NewFaultInjectingDevice(inner BlockDriver, failAfter, tornBytes int) *FaultInjectingDevice {
	return &FaultInjectingDevice{inner: inner, failAfter: failAfter, tornBytes: tornBytes}
}

func (d *FaultInjectingDevice) Read(clusterID uint32, offset int, dst []byte) error {
	return d.inner.Read(clusterID, offset, dst)
}

func (d *FaultInjectingDevice) Write(clusterID uint32, offset int, src []byte) error {
	if d.Tripped {
		return ErrInjectedFault
	}
	if d.count == d.failAfter {
		d.count++
		d.Tripped = true
		if d.tornBytes < 0 {
			return d.inner.Write(clusterID, offset, src)
		}
		if d.tornBytes > 0 && d.tornBytes < len(src) {
			if err := d.inner.Write(clusterID, offset, src[:d.tornBytes]); err != nil {
				return err
			}
		}
		return ErrInjectedFault
	}
	d.count++
	return d.inner.Write(clusterID, offset, src)
}

func (d *FaultInjectingDevice) EraseSector(sectorID uint32) error {
	return d.inner.EraseSector(sectorID)
}

func (d *FaultInjectingDevice) EraseChip() error {
	return d.inner.EraseChip()
}

func (d *FaultInjectingDevice) DeviceSize() int64 { return d.inner.DeviceSize() }
func (d *FaultInjectingDevice) SectorSize() int   { return d.inner.SectorSize() }
func (d *FaultInjectingDevice) ClusterSize() int  { return d.inner.ClusterSize() }
