// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestVectorLRU_BasicOperations(t *testing.T) {
	cache := NewVectorLRU(3)

	cache.Add("a", []float32{1})
	cache.Add("b", []float32{2})
	cache.Add("c", []float32{3})

	if v, found := cache.Get("a"); !found || v[0] != 1 {
		t.Error("Expected to find key 'a' with value 1")
	}
	if cache.Len() != 3 {
		t.Errorf("Expected len 3, got %d", cache.Len())
	}
}

func TestVectorLRU_Eviction(t *testing.T) {
	cache := NewVectorLRU(3)

	cache.Add("a", []float32{1})
	cache.Add("b", []float32{2})
	cache.Add("c", []float32{3})

	// Touch 'a' so 'b' becomes the eviction candidate.
	cache.Get("a")
	cache.Add("d", []float32{4})

	if _, found := cache.Get("b"); found {
		t.Error("Expected 'b' to be evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, found := cache.Get(key); !found {
			t.Errorf("Expected %q to be present", key)
		}
	}
}

func TestVectorLRU_UpdateExisting(t *testing.T) {
	cache := NewVectorLRU(2)

	cache.Add("a", []float32{1})
	cache.Add("a", []float32{9})

	if cache.Len() != 1 {
		t.Errorf("Expected len 1 after update, got %d", cache.Len())
	}
	if v, _ := cache.Get("a"); v[0] != 9 {
		t.Errorf("Expected updated value 9, got %v", v[0])
	}
}

func TestVectorLRU_Stats(t *testing.T) {
	cache := NewVectorLRU(2)
	cache.Add("a", []float32{1})

	cache.Get("a")
	cache.Get("missing")

	hits, misses := cache.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats() = (%d, %d), want (1, 1)", hits, misses)
	}
}

func TestVectorLRU_ConcurrentAccess(t *testing.T) {
	cache := NewVectorLRU(100)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("key-%d", j%150)
				cache.Add(key, []float32{float32(worker)})
				cache.Get(key)
			}
		}(i)
	}
	wg.Wait()

	if cache.Len() > 100 {
		t.Errorf("Cache exceeded capacity: %d", cache.Len())
	}
}
