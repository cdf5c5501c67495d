/*
 cache.go

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

import "container/list"

// ClusterCacheSize bounds how many decoded clusters ClusterCache keeps.
// Same order of magnitude as the teacher's BlockCacheSize, for the same
// reason: a handful of hot clusters (repeated name lookups, a stream's
// current block) account for almost all re-reads.
const ClusterCacheSize = 128

type cachedCluster struct {
	clusterID uint32
	data      []byte
}

// ClusterCache is a read-through LRU over raw cluster bytes, keyed by
// cluster id. It is the same container/list-backed design as the
// teacher's CacheLayer (there used for indirect block pointers, keyed by
// level since inodes have three indirection depths); this file system has
// no indirection levels, so there is only ever one cache here, keyed
// directly by cluster id. Callers must Drop a cluster's entry the moment
// its marker changes on the device (pending->allocated, or
// allocated->orphaned) so the cache can never serve stale header bytes.
type ClusterCache struct {
	capacity int
	entries  map[uint32]*list.Element
	order    *list.List
}

func NewClusterCache(capacity int) *ClusterCache {
	return &ClusterCache{
		capacity: capacity,
		entries:  make(map[uint32]*list.Element),
		order:    list.New(),
	}
}

func (c *ClusterCache) Get(clusterID uint32) ([]byte, bool) {
	if el, ok := c.entries[clusterID]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cachedCluster).data, true
	}
	return nil, false
}

func (c *ClusterCache) Put(clusterID uint32, data []byte) {
	if el, ok := c.entries[clusterID]; ok {
		el.Value.(*cachedCluster).data = append([]byte(nil), data...)
		c.order.MoveToFront(el)
		return
	}
	if c.order.Len() >= c.capacity {
		if back := c.order.Back(); back != nil {
			c.order.Remove(back)
			delete(c.entries, back.Value.(*cachedCluster).clusterID)
		}
	}
	el := c.order.PushFront(&cachedCluster{clusterID: clusterID, data: append([]byte(nil), data...)})
	c.entries[clusterID] = el
}

func (c *ClusterCache) Drop(clusterID uint32) {
	if el, ok := c.entries[clusterID]; ok {
		c.order.Remove(el)
		delete(c.entries, clusterID)
	}
}
