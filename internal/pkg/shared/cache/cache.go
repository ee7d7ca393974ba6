// Copyright (c) 2018 PT Defender Nusa Semesta and contributors, All rights reserved.
//
// This file is part of Dpull.
//
// Dpull is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation version 3 of the License.
//
// Dpull is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Dpull. If not, see <https://www.gnu.org/licenses/>.

// Package cache keeps a bounded, expiring set of record keys so that a pull
// emits each record once.
package cache

import (
	"sync"
	"time"

	"github.com/allegro/bigcache"
)

// Cache is a set of keys stored in bigcache
type Cache struct {
	sync.Mutex
	ID       string
	Lifetime time.Duration
	cache    *bigcache.BigCache
}

// maxInitialEntries caps the up-front allocation for long lifetimes
const maxInitialEntries = 1 << 16

// New returns a Cache whose keys expire after lifetimeMinutes. Zero values
// select 10 minutes and 8 shards, shards must be a power of 2.
func New(name string, lifetimeMinutes int, shards int) (*Cache, error) {
	if lifetimeMinutes == 0 {
		lifetimeMinutes = 10
	}
	if shards == 0 {
		shards = 8
	}
	initial := shards * lifetimeMinutes * 60
	if initial > maxInitialEntries {
		initial = maxInitialEntries
	}
	config := bigcache.Config{
		Shards:     shards,
		LifeWindow: time.Duration(lifetimeMinutes) * time.Minute,
		// initial allocation only
		MaxEntriesInWindow: initial,
		MaxEntrySize:       8,
	}
	p, err := bigcache.NewBigCache(config)
	if err != nil {
		return nil, err
	}
	return &Cache{ID: name, Lifetime: config.LifeWindow, cache: p}, nil
}

// Seen marks key as seen and reports whether it was already marked
func (c *Cache) Seen(key string) bool {
	c.Lock()
	defer c.Unlock()
	if _, err := c.cache.Get(key); err == nil {
		return true
	}
	_ = c.cache.Set(key, []byte{1})
	return false
}

// Len returns the number of keys
func (c *Cache) Len() int {
	return c.cache.Len()
}

// Close drops every key
func (c *Cache) Close() error {
	return c.cache.Reset()
}
