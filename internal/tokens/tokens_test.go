package tokens

import "testing"

func TestEstimate(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"short", "hi", 0},
		{"exact multiple", "abcdefgh", 2},
		{"prose", "The quick brown fox jumps over the lazy dog", 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Estimate(tt.text); got != tt.want {
				t.Errorf("Estimate(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestEstimateAll(t *testing.T) {
	got := EstimateAll("abcd", "efgh", "ij")
	if got != 2 {
		t.Errorf("EstimateAll = %d, want 2", got)
	}
	if EstimateAll() != 0 {
		t.Error("EstimateAll() should be 0")
	}
}
