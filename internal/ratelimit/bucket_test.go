package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAcquireConsumesAvailableTokenImmediately(t *testing.T) {
	b := New(DefaultConfig(), nil)
	ctx := context.Background()
	start := time.Now()
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("expected immediate acquire with initial tokens available")
	}
}

func TestRateStaysWithinBounds(t *testing.T) {
	b := New(DefaultConfig(), nil)
	for i := 0; i < 20; i++ {
		b.AdjustForStatus(200)
	}
	s := b.Snapshot()
	if s.Rate < DefaultConfig().MinRate || s.Rate > DefaultConfig().MaxRate {
		t.Fatalf("rate %f out of bounds", s.Rate)
	}

	for i := 0; i < 20; i++ {
		b.AdjustForStatus(429)
	}
	s = b.Snapshot()
	if s.Rate < DefaultConfig().MinRate || s.Rate > DefaultConfig().MaxRate {
		t.Fatalf("rate %f out of bounds after congestion", s.Rate)
	}
}

func TestCongestionHalvesRateAndRecordsLastCongestion(t *testing.T) {
	cfg := DefaultConfig()
	b := New(cfg, nil)
	before := b.Snapshot().Rate
	b.AdjustForStatus(429)
	after := b.Snapshot()
	if after.Rate != maxF(cfg.MinRate, before/2) {
		t.Fatalf("expected halved rate, got %f from %f", after.Rate, before)
	}
	if after.LastCongestionRate != before {
		t.Fatalf("expected last_congestion_rate=%f, got %f", before, after.LastCongestionRate)
	}
	if after.Tokens != 0 {
		t.Fatalf("expected tokens reset to 0 on congestion, got %f", after.Tokens)
	}
}

func TestSuccessAggressiveVsConservativeIncrease(t *testing.T) {
	cfg := DefaultConfig()
	b := New(cfg, nil)
	// rate (0.1) < last_congestion_rate (1.0): aggressive step.
	b.AdjustForStatus(200)
	s := b.Snapshot()
	want := maxF(0.1+0.01, 0.1*cfg.FirstStep)
	if s.Rate != want {
		t.Fatalf("expected aggressive increase to %f, got %f", want, s.Rate)
	}
}

func TestTokenRegenerationRespectsElapsedTimeAndBucketSize(t *testing.T) {
	cfg := DefaultConfig()
	past := State{
		Tokens: 0, Rate: 10, BucketSize: cfg.BucketSize,
		LastCongestionRate: cfg.InitialCongestion, LastUsedAt: time.Now().Add(-10 * time.Second),
	}
	b := New(cfg, &past)
	s := b.Snapshot()
	if s.Tokens != cfg.BucketSize {
		t.Fatalf("expected regeneration capped at bucket_size=%f, got %f", cfg.BucketSize, s.Tokens)
	}
}
