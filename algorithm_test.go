package redislimit

import "testing"

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		input       string
		want        Algorithm
		expectError bool
	}{
		{input: "fixed_window", want: FixedWindow},
		{input: "sliding_window", want: SlidingWindow},
		{input: "token_bucket", want: TokenBucket},
		{input: "leaky_bucket", want: LeakyBucket},
		{input: "Fixed_Window", want: FixedWindow},
		{input: "TOKEN_BUCKET", want: TokenBucket},
		{input: "gcra", expectError: true},
		{input: "", expectError: true},
		{input: "sliding window", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected error for %q, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseAlgorithm(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestAlgorithmString(t *testing.T) {
	tests := []struct {
		algo Algorithm
		want string
	}{
		{FixedWindow, "fixed_window"},
		{SlidingWindow, "sliding_window"},
		{TokenBucket, "token_bucket"},
		{LeakyBucket, "leaky_bucket"},
	}
	for _, tt := range tests {
		if got := tt.algo.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestAlgorithmRoundTrip(t *testing.T) {
	for _, algo := range []Algorithm{FixedWindow, SlidingWindow, TokenBucket, LeakyBucket} {
		parsed, err := ParseAlgorithm(algo.String())
		if err != nil {
			t.Fatalf("round trip %v: %v", algo, err)
		}
		if parsed != algo {
			t.Errorf("round trip %v: got %v", algo, parsed)
		}
	}
}
