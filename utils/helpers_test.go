package utils

import (
	"testing"

	"distilsum/params"
)

func TestChooseValidHeads(t *testing.T) {
	if got := ChooseValidHeads(256, 8); got != 8 {
		t.Fatalf("got %d heads, want 8", got)
	}
	if got := ChooseValidHeads(256, 7); got != 4 {
		t.Fatalf("got %d heads, want 4 (largest divisor <= 7)", got)
	}
	if got := ChooseValidHeads(4, 0); got != 1 {
		t.Fatalf("got %d heads, want 1", got)
	}
}

func TestLRScheduleWarmupAndDecay(t *testing.T) {
	saved := params.Config
	defer func() { params.Config = saved }()
	params.Config.WarmupSteps = 100
	params.Config.DecaySteps = 1000

	peak := 0.001
	if got := LRSchedule(0, peak); got != 0 {
		t.Fatalf("step 0: got %v, want 0", got)
	}
	if got := LRSchedule(50, peak); got >= peak {
		t.Fatalf("mid-warmup rate %v not below peak", got)
	}
	if got := LRSchedule(100, peak); got != peak {
		t.Fatalf("end of warmup: got %v, want %v", got, peak)
	}
	if got := LRSchedule(600, peak); got <= 0 || got >= peak {
		t.Fatalf("mid-decay rate %v out of (0, peak)", got)
	}
	if got := LRSchedule(1100, peak); got > 1e-15 {
		t.Fatalf("post-decay rate %v, want 0", got)
	}
}
