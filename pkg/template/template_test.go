package template

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		prefix string
		suffix string
		want   []string
	}{
		{
			name: "plain lines",
			raw:  "hello\nworld",
			want: []string{"hello", "world"},
		},
		{
			name:   "prefix and suffix",
			raw:    "one\r\n\n  two  \n",
			prefix: "Hi",
			suffix: "bye",
			want:   []string{"Hi one bye", "Hi two bye"},
		},
		{
			name:   "prefix only",
			raw:    "x",
			prefix: " [ops] ",
			want:   []string{"[ops] x"},
		},
		{
			name:   "suffix only",
			raw:    "x",
			suffix: "--",
			want:   []string{"x --"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.raw, tt.prefix, tt.suffix)
			if err != nil {
				t.Fatalf("Expand failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d entries, got %d: %q", len(tt.want), len(got), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Entry %d: expected %q, got %q", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestExpandEmpty(t *testing.T) {
	for _, raw := range []string{"", "\n\n", "   \r\n\t"} {
		if _, err := Expand(raw, "p", "s"); !errors.Is(err, ErrEmptyMessages) {
			t.Errorf("Expand(%q): expected ErrEmptyMessages, got %v", raw, err)
		}
	}
}

func TestExpandPreservesLines(t *testing.T) {
	raw := "alpha\n\n beta \ngamma delta\n\n\n"
	got, err := Expand(raw, "pre", "post")
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}

	var nonBlank []string
	for _, l := range strings.Split(raw, "\n") {
		if s := strings.TrimSpace(l); s != "" {
			nonBlank = append(nonBlank, s)
		}
	}
	if len(got) != len(nonBlank) {
		t.Fatalf("Expected %d entries, got %d", len(nonBlank), len(got))
	}
	for i, line := range nonBlank {
		if !strings.Contains(got[i], line) {
			t.Errorf("Entry %q does not contain %q", got[i], line)
		}
	}
}

func TestCoerceDelay(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{5, 5},
		{0, 1},
		{-3, 1},
		{int64(7), 7},
		{2.9, 2},
		{0.5, 1},
		{"12", 12},
		{" 3 ", 3},
		{"abc", 1},
		{"", 1},
		{nil, 1},
		{math.NaN(), 1},
		{true, 1},
	}
	for _, tt := range tests {
		if got := CoerceDelay(tt.in); got != tt.want {
			t.Errorf("CoerceDelay(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
