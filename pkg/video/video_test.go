package video

import (
	"context"
	"math"
	"testing"
)

func TestResolveFPS(t *testing.T) {
	cases := []struct {
		name     string
		reported float64
		total    int
		duration float64
		want     float64
	}{
		{name: "reported", reported: 25, total: 100, duration: 10, want: 25},
		{name: "derived", reported: 0, total: 300, duration: 12, want: 25},
		{name: "nan reported", reported: math.NaN(), total: 300, duration: 10, want: 30},
		{name: "fallback", reported: 0, total: 0, duration: 0, want: DefaultFPS},
		{name: "no duration", reported: -1, total: 120, duration: 0, want: DefaultFPS},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveFPS(tc.reported, tc.total, tc.duration); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

type nopOpener struct{}

func (nopOpener) Open(context.Context, string) (Source, error)         { return nil, nil }
func (nopOpener) Create(context.Context, string, Meta) (Writer, error) { return nil, nil }

func TestLookup(t *testing.T) {
	Register("nop", func() Opener { return nopOpener{} })
	if _, err := Lookup("nop"); err != nil {
		t.Fatal(err)
	}
	if _, err := Lookup("missing"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
