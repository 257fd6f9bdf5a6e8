//go:build unix

package replica

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWriteLocker_SerializesWriters(t *testing.T) {
	dir := t.TempDir()

	const workers = 4
	const rounds = 10
	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				l := newWriteLocker(dir)
				if err := l.acquire(5 * time.Second); err != nil {
					t.Errorf("acquire: %v", err)
					return
				}
				v := atomic.LoadInt64(&counter)
				time.Sleep(time.Millisecond)
				atomic.StoreInt64(&counter, v+1)
				l.release()
			}
		}()
	}
	wg.Wait()

	if counter != workers*rounds {
		t.Fatalf("counter = %d, want %d", counter, workers*rounds)
	}
}

func TestWriteLocker_TimeoutNamesHolder(t *testing.T) {
	dir := t.TempDir()

	held := newWriteLocker(dir)
	if err := held.acquire(time.Second); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer held.release()

	err := newWriteLocker(dir).acquire(50 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !strings.Contains(err.Error(), "timeout") || !strings.Contains(err.Error(), "pid:") {
		t.Fatalf("error should name the holder: %v", err)
	}
}
