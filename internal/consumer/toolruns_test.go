package consumer

import (
	"testing"

	"github.com/user/jobclaw/internal/types"
)

func TestToolRunSetCallIDDedupe(t *testing.T) {
	s := newToolRunSet()
	s.start("c1", "search")
	s.start("c1", "search")

	runs := s.snapshot()
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want duplicate start collapsed to 1", len(runs))
	}
	if runs[0].Key != "c1" || runs[0].Status != types.ToolRunning {
		t.Errorf("run = %+v, want c1 running", runs[0])
	}
}

func TestToolRunSetOrdinalKeys(t *testing.T) {
	s := newToolRunSet()
	s.start("", "fetch")
	s.start("", "fetch")
	s.start("", "parse")

	runs := s.snapshot()
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	wantKeys := []string{"fetch#1", "fetch#2", "parse#1"}
	for i, want := range wantKeys {
		if runs[i].Key != want {
			t.Errorf("run[%d].Key = %q, want %q", i, runs[i].Key, want)
		}
	}
}

func TestToolRunSetFinishByCallID(t *testing.T) {
	s := newToolRunSet()
	s.start("c1", "search")
	s.start("c2", "search")
	s.finish("c1", "search", true, 40, "")

	runs := s.snapshot()
	if runs[0].Status != types.ToolOK || runs[0].DurationMs != 40 {
		t.Errorf("c1 = %+v, want finished ok in 40ms", runs[0])
	}
	if runs[1].Status != types.ToolRunning {
		t.Errorf("c2 = %+v, want still running", runs[1])
	}
}

func TestToolRunSetFinishByNameMatchesLatestRunning(t *testing.T) {
	s := newToolRunSet()
	s.start("", "fetch")
	s.start("", "fetch")
	s.finish("", "fetch", false, 10, "timeout")

	runs := s.snapshot()
	if runs[0].Status != types.ToolRunning {
		t.Errorf("fetch#1 = %+v, want untouched", runs[0])
	}
	if runs[1].Status != types.ToolFailed || runs[1].Error != "timeout" {
		t.Errorf("fetch#2 = %+v, want failed with detail", runs[1])
	}
}

func TestToolRunSetFinishWithoutStart(t *testing.T) {
	s := newToolRunSet()
	s.finish("c9", "search", true, 7, "")

	runs := s.snapshot()
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want orphan finish recorded", len(runs))
	}
	if runs[0].Key != "c9" || runs[0].Status != types.ToolOK {
		t.Errorf("run = %+v, want c9 finished ok", runs[0])
	}
}

func TestToolRunSetSnapshotIsCopy(t *testing.T) {
	s := newToolRunSet()
	s.start("c1", "search")

	snap := s.snapshot()
	s.finish("c1", "search", true, 5, "")

	if snap[0].Status != types.ToolRunning {
		t.Error("snapshot mutated by later finish")
	}
}
