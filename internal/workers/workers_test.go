package workers

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDrainWaitsForTasks(t *testing.T) {
	var g Group
	var ran atomic.Int32
	for i := 0; i < 8; i++ {
		g.Go(func() {
			time.Sleep(10 * time.Millisecond)
			ran.Add(1)
		})
	}
	if !g.Drain(2 * time.Second) {
		t.Fatalf("drain timed out")
	}
	if ran.Load() != 8 {
		t.Fatalf("expected 8 tasks, got %d", ran.Load())
	}
}

func TestDrainTimesOutOnStuckTask(t *testing.T) {
	var g Group
	release := make(chan struct{})
	g.Go(func() { <-release })
	if g.Drain(50 * time.Millisecond) {
		t.Fatalf("drain should have timed out")
	}
	close(release)
	if !g.Drain(2 * time.Second) {
		t.Fatalf("drain should complete once the task is released")
	}
}

func TestDrainOnEmptyGroup(t *testing.T) {
	var g Group
	if !g.Drain(0) {
		t.Fatalf("draining an empty group should succeed immediately")
	}
}
