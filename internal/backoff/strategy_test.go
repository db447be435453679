package backoff

import (
	"testing"
	"time"
)

func TestExponentialNoJitter(t *testing.T) {
	s := Exponential{}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, 5 * time.Second}, // capped at max
	}

	for _, tt := range tests {
		got := s.Delay(tt.attempt, 100*time.Millisecond, 5*time.Second, 2.0, 0.0)
		if got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialJitterBounds(t *testing.T) {
	s := Exponential{}
	initial := 100 * time.Millisecond
	max := 5 * time.Second

	for i := 0; i < 100; i++ {
		got := s.Delay(2, initial, max, 2.0, 0.5)
		base := 400 * time.Millisecond
		if got < base || got >= base+base/2+time.Millisecond {
			t.Fatalf("jittered delay %v outside [%v, %v)", got, base, base+base/2)
		}
	}
}

func TestExponentialNegativeAttempt(t *testing.T) {
	s := Exponential{}
	got := s.Delay(-5, 100*time.Millisecond, 5*time.Second, 2.0, 0.0)
	if got != 100*time.Millisecond {
		t.Errorf("Delay(-5) = %v, want initial", got)
	}
}

func TestExponentialOverflowCapped(t *testing.T) {
	s := Exponential{}
	got := s.Delay(1000, time.Second, 30*time.Second, 2.0, 0.0)
	if got != 30*time.Second {
		t.Errorf("Delay(1000) = %v, want max", got)
	}
}

func TestDecorrelatedFirstAttempt(t *testing.T) {
	s := Decorrelated{}
	got := s.Delay(0, 100*time.Millisecond, 5*time.Second, 2.0, 0.0)
	if got != 100*time.Millisecond {
		t.Errorf("Delay(0) = %v, want initial", got)
	}
}

func TestDecorrelatedBounds(t *testing.T) {
	s := Decorrelated{}
	initial := 100 * time.Millisecond
	max := 5 * time.Second

	for attempt := 1; attempt <= 12; attempt++ {
		for i := 0; i < 50; i++ {
			got := s.Delay(attempt, initial, max, 2.0, 0.0)
			if got < initial || got > max {
				t.Fatalf("Delay(%d) = %v outside [%v, %v]", attempt, got, initial, max)
			}
		}
	}
}

func TestClampJitter(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-1, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{2, 1},
	}
	for _, tt := range tests {
		if got := clampJitter(tt.in); got != tt.want {
			t.Errorf("clampJitter(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPow(t *testing.T) {
	if got := pow(2.0, 10); got != 1024.0 {
		t.Errorf("pow(2,10) = %v, want 1024", got)
	}
	if got := pow(3.0, 0); got != 1.0 {
		t.Errorf("pow(3,0) = %v, want 1", got)
	}
}
