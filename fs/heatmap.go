/*
 heatmap.go

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

import "fmt"

const DefaultWearMapWidth = 128

// WearHeatMap renders a device's per-sector erase counts as a terminal
// heat map, one cell per sector, colored by erase count relative to the
// hottest sector on the device. This is the teacher's bitmap-occupancy
// MakeHeatMap/HeatMap.Draw reworked around erase counts instead of
// allocated-bit density, since bitmap occupancy has no equivalent here:
// the wear property (§8 invariant 7) is the thing worth looking at.
type WearHeatMap struct {
	counts []uint32
	width  int
	max    uint32
}

func NewWearHeatMap(eraseCounts []uint32) *WearHeatMap {
	width := DefaultWearMapWidth
	if len(eraseCounts) < width {
		width = len(eraseCounts)
	}
	if width == 0 {
		width = 1
	}
	var max uint32
	for _, c := range eraseCounts {
		if c > max {
			max = c
		}
	}
	return &WearHeatMap{counts: eraseCounts, width: width, max: max}
}

func (h *WearHeatMap) Draw() {
	if len(h.counts) == 0 {
		fmt.Println("(no sectors)")
		return
	}
	height := (len(h.counts) + h.width - 1) / h.width
	for row := 0; row < height; row++ {
		for col := 0; col < h.width; col++ {
			idx := row*h.width + col
			if idx >= len(h.counts) {
				fmt.Print(" ")
				continue
			}
			fmt.Print(h.cell(h.counts[idx]))
		}
		fmt.Println()
	}
}

func (h *WearHeatMap) cell(count uint32) string {
	if h.max == 0 {
		return "█"
	}
	ratio := float32(count) / float32(h.max)
	switch {
	case ratio < 0.0001:
		return "█"
	case ratio < 0.2:
		return "\033[92m█\033[0m"
	case ratio < 0.6:
		return "\033[38;5;226m█\033[0m"
	case ratio < 0.85:
		return "\033[38;5;214m█\033[0m"
	default:
		return "\033[31m█\033[0m"
	}
}
