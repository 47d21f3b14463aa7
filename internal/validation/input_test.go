package validation

import (
	"strings"
	"testing"
)

func TestIsValidPrompt(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   bool
	}{
		{"normal prompt", "кот в сапогах на марсе", true},
		{"empty", "", false},
		{"spaces only", "   ", false},
		{"max length", strings.Repeat("a", MaxPromptLength), true},
		{"too long", strings.Repeat("a", MaxPromptLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidPrompt(tt.prompt); got != tt.want {
				t.Fatalf("IsValidPrompt(%q) = %v, want %v", tt.prompt, got, tt.want)
			}
		})
	}
}

func TestIsValidDuration(t *testing.T) {
	for _, d := range []int{5, 10, 15} {
		if !IsValidDuration(d) {
			t.Fatalf("duration %d must be valid", d)
		}
	}
	for _, d := range []int{0, -5, 7, 20, 60} {
		if IsValidDuration(d) {
			t.Fatalf("duration %d must be invalid", d)
		}
	}
}

func TestIsValidQuality(t *testing.T) {
	if !IsValidQuality("standard") || !IsValidQuality("high") {
		t.Fatalf("standard and high must be valid")
	}
	if IsValidQuality("ultra") || IsValidQuality("") {
		t.Fatalf("unknown quality must be invalid")
	}
}

func TestIsValidTopupAmount(t *testing.T) {
	for _, a := range []int64{200, 500, 1000, 2000} {
		if !IsValidTopupAmount(a) {
			t.Fatalf("amount %d must be valid", a)
		}
	}
	for _, a := range []int64{0, -200, 100, 300, 5000} {
		if IsValidTopupAmount(a) {
			t.Fatalf("amount %d must be invalid", a)
		}
	}
}
