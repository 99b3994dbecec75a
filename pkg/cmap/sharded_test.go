package cmap

import (
	"fmt"
	"sync"
	"testing"
)

func TestNewWithShards(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, DefaultShardCount},  // invalid → default
		{-1, DefaultShardCount}, // invalid → default
		{3, DefaultShardCount},  // not power of 2 → default
		{1, 1},
		{8, 8},
		{32, 32},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("shards=%d", tt.input), func(t *testing.T) {
			m := NewWithShards[string, int](tt.input)
			if len(m.shards) != tt.expected {
				t.Errorf("NewWithShards(%d) shard count = %d, want %d",
					tt.input, len(m.shards), tt.expected)
			}
		})
	}
}

func TestSetGetDelete(t *testing.T) {
	m := New[[4]byte, int]()

	k1 := [4]byte{1}
	k2 := [4]byte{2}
	m.Set(k1, 100)
	m.Set(k2, 200)

	if val, ok := m.Get(k1); !ok || val != 100 {
		t.Errorf("Get(k1) = (%d, %v), want (100, true)", val, ok)
	}
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}

	m.Delete(k1)
	if m.Has(k1) {
		t.Error("k1 still present after Delete")
	}

	if val, ok := m.Pop(k2); !ok || val != 200 {
		t.Errorf("Pop(k2) = (%d, %v)", val, ok)
	}
	if _, ok := m.Pop(k2); ok {
		t.Error("second Pop(k2) found a value")
	}
}

func TestSetIfAbsent(t *testing.T) {
	m := New[string, int]()

	if !m.SetIfAbsent("a", 1) {
		t.Error("first SetIfAbsent should store")
	}
	if m.SetIfAbsent("a", 2) {
		t.Error("second SetIfAbsent should not store")
	}
	if v, _ := m.Get("a"); v != 1 {
		t.Errorf("Get(a) = %d, want 1", v)
	}
}

func TestRangeAndClear(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 100; i++ {
		m.Set(i, i*2)
	}

	sum := 0
	m.Range(func(k, v int) bool {
		sum += v
		return true
	})
	if sum != 9900 {
		t.Errorf("Range sum = %d, want 9900", sum)
	}

	seen := 0
	m.Range(func(k, v int) bool {
		seen++
		return seen < 5
	})
	if seen != 5 {
		t.Errorf("early stop visited %d, want 5", seen)
	}

	m.Clear()
	if m.Count() != 0 {
		t.Errorf("Count() after Clear = %d", m.Count())
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New[int, int]()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := g*1000 + i
				m.Set(key, i)
				m.Get(key)
				if i%2 == 0 {
					m.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	if m.Count() != 8*250 {
		t.Errorf("Count() = %d, want %d", m.Count(), 8*250)
	}
}
