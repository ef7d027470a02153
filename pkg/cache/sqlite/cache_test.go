package sqlite

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("rec:abc123", []byte(`{"theme":"noir"}`), time.Hour); err != nil {
		t.Fatal(err)
	}

	data, ok := s.Get("rec:abc123")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(data) != `{"theme":"noir"}` {
		t.Errorf("unexpected data: %s", data)
	}

	if _, ok := s.Get("rec:other"); ok {
		t.Error("expected cache miss for unknown key")
	}
}

func TestPutReplaces(t *testing.T) {
	s := newTestStore(t)

	_ = s.Put("k", []byte("old"), time.Hour)
	if err := s.Put("k", []byte("new"), time.Hour); err != nil {
		t.Fatal(err)
	}

	data, ok := s.Get("k")
	if !ok || string(data) != "new" {
		t.Errorf("Get = %q, %v; want new, true", data, ok)
	}

	count, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
}

func TestTTLExpiration(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("k", []byte("data"), time.Millisecond); err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, ok := s.Get("k"); ok {
		t.Error("expected cache miss after TTL expiration")
	}

	// The expired row is removed lazily on read.
	count, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Count = %d, want 0 after lazy delete", count)
	}
}

func TestPurge(t *testing.T) {
	s := newTestStore(t)

	_ = s.Put("live", []byte("data"), time.Hour)
	_ = s.Put("dead", []byte("data"), time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	removed, err := s.Purge()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("Purge removed %d, want 1", removed)
	}

	if _, ok := s.Get("live"); !ok {
		t.Error("live entry should survive purge")
	}
}

func TestConcurrentWrites(t *testing.T) {
	s := newTestStore(t)

	// Parallel writers mirror the cover batch hammering the store; with the
	// busy timeout in the DSN none of them should fail.
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("cover:%d", i)
			if err := s.Put(key, []byte("data"), time.Hour); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent put: %v", err)
	}
	count, err := s.Count()
	if err != nil {
		t.Fatal(err)
	}
	if count != 20 {
		t.Errorf("Count = %d, want 20", count)
	}
}

func TestClearAndDelete(t *testing.T) {
	s := newTestStore(t)

	_ = s.Put("a", []byte("1"), time.Hour)
	_ = s.Put("b", []byte("2"), time.Hour)

	if err := s.Delete("a"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("a"); ok {
		t.Error("deleted entry should miss")
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	count, _ := s.Count()
	if count != 0 {
		t.Errorf("Count = %d after clear, want 0", count)
	}
}
