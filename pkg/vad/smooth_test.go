package vad

import "testing"

func TestSmoother_HangoverBridging(t *testing.T) {
	t.Parallel()

	s := newSmoother(10, 3, 0)

	voiced := Decision{Voiced: true, Confidence: 0.9, Strength: 5}
	silent := Decision{Voiced: false, Confidence: 0.1, Strength: 0.2}

	steps := []struct {
		d    Decision
		want bool
	}{
		{voiced, true},
		{voiced, true},
		{silent, true}, // hangover 3 -> 2
		{silent, true}, // 2 -> 1
		{silent, true}, // 1 -> 0
		{silent, false},
		{silent, false},
	}
	for i, step := range steps {
		if got := s.apply(step.d); got != step.want {
			t.Fatalf("frame %d: apply() = %v, want %v", i, got, step.want)
		}
	}
}

func TestSmoother_HangoverBonus(t *testing.T) {
	t.Parallel()

	highConf := Decision{Voiced: true, Confidence: 0.95, Strength: 6}
	lowConf := Decision{Voiced: true, Confidence: 0.5, Strength: 2}
	silent := Decision{Voiced: false, Confidence: 0.1, Strength: 0.2}

	tests := []struct {
		name        string
		trigger     Decision
		wantBridged int
	}{
		{"high confidence earns bonus", highConf, 5},
		{"low confidence gets base hangover", lowConf, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newSmoother(10, 3, 2)
			s.apply(tt.trigger)

			bridged := 0
			for s.apply(silent) {
				bridged++
				if bridged > 10 {
					t.Fatal("smoother never flipped to silence")
				}
			}
			if bridged != tt.wantBridged {
				t.Errorf("bridged %d silent frames, want %d", bridged, tt.wantBridged)
			}
		})
	}
}

func TestSmoother_VoteSuppressesIsolatedBlip(t *testing.T) {
	t.Parallel()

	s := newSmoother(10, 8, 0)

	silent := Decision{Voiced: false, Confidence: 0.2, Strength: 0.3}
	for i := 0; i < 25; i++ {
		if s.apply(silent) {
			t.Fatalf("silent frame %d smoothed to voiced", i)
		}
	}

	// One raw voiced frame after a long silence run faces the raised vote
	// threshold and must not open a voiced stretch on its own.
	blip := Decision{Voiced: true, Confidence: 0.75, Strength: 3}
	if s.apply(blip) {
		t.Error("isolated blip after long silence smoothed to voiced")
	}
}

func TestSmoother_SustainedOnsetConfirms(t *testing.T) {
	t.Parallel()

	s := newSmoother(10, 8, 4)

	voiced := Decision{Voiced: true, Confidence: 0.9, Strength: 5}
	if !s.apply(voiced) {
		t.Error("first voiced frame on a fresh smoother should confirm")
	}
	if !s.apply(voiced) {
		t.Error("second voiced frame should confirm")
	}
}

func TestSmoother_VoteThresholdContext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		s    smoother
		want float64
	}{
		{"bridging a gap", smoother{consecutiveSilence: 2, hangoverRemaining: 4}, voteThresholdHangover},
		{"voiced streak", smoother{consecutiveVoiced: 3, hangoverRemaining: 8}, voteThresholdStreak},
		{"long silence", smoother{consecutiveSilence: 20}, voteThresholdLongSilence},
		{"default", smoother{consecutiveVoiced: 1}, voteThresholdBase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.s.voteThreshold(); got != tt.want {
				t.Errorf("voteThreshold() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSmoother_RingBounded(t *testing.T) {
	t.Parallel()

	s := newSmoother(5, 3, 0)
	for i := 0; i < 20; i++ {
		s.apply(Decision{Voiced: i%2 == 0, Confidence: 0.5})
		if len(s.ring) > 5 {
			t.Fatalf("ring grew to %d entries, capacity 5", len(s.ring))
		}
	}
	if len(s.ring) != 5 {
		t.Errorf("ring has %d entries after 20 frames, want 5", len(s.ring))
	}
}
