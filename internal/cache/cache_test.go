package cache

import (
	"errors"
	"sync"
	"testing"
)

func TestGetOrLoadCachesSuccess(t *testing.T) {
	c := New[string, int]()
	calls := 0
	load := func() (int, error) {
		calls++
		return 42, nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("answer", load)
		if err != nil || v != 42 {
			t.Fatalf("GetOrLoad = %d, %v; want 42, nil", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("load calls = %d, want 1", calls)
	}
}

func TestGetOrLoadRetriesFailure(t *testing.T) {
	c := New[string, int]()
	boom := errors.New("boom")
	if _, err := c.GetOrLoad("k", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Fatalf("failed load was cached")
	}
	v, err := c.GetOrLoad("k", func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("retry = %d, %v; want 7, nil", v, err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int, int]()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = c.Get(i % 4)
			_, _ = c.GetOrLoad(i%4, func() (int, error) { return i, nil })
		}(i)
	}
	wg.Wait()
	for k := 0; k < 4; k++ {
		if v, ok := c.Get(k); !ok || v%4 != k {
			t.Fatalf("Get(%d) = %d, %v; want a value loaded for that key", k, v, ok)
		}
	}
}
