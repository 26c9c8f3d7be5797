package consumer

import (
	"sync"
	"testing"
	"time"
)

func TestCoalescerEmitsLatestSnapshot(t *testing.T) {
	var mu sync.Mutex
	var got []string
	c := newCoalescer(10*time.Millisecond, func(text string) {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
	})
	defer c.close()

	c.update("a")
	c.update("ab")
	c.update("abc")

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("emissions = %v, want the burst coalesced into 1", got)
	}
	if got[0] != "abc" {
		t.Errorf("emitted %q, want the latest snapshot", got[0])
	}
}

func TestCoalescerFlushIsImmediate(t *testing.T) {
	var got []string
	c := newCoalescer(time.Hour, func(text string) {
		got = append(got, text)
	})
	defer c.close()

	c.update("final")
	c.flush()

	if len(got) != 1 || got[0] != "final" {
		t.Fatalf("emissions = %v, want immediate flush of pending text", got)
	}

	// A second flush with nothing pending emits nothing.
	c.flush()
	if len(got) != 1 {
		t.Errorf("emissions = %v, want no re-emission without new text", got)
	}
}

func TestCoalescerCloseSuppressesEmission(t *testing.T) {
	var mu sync.Mutex
	emitted := false
	c := newCoalescer(5*time.Millisecond, func(string) {
		mu.Lock()
		emitted = true
		mu.Unlock()
	})

	c.update("never seen")
	c.close()

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if emitted {
		t.Error("emission fired after close")
	}
}
