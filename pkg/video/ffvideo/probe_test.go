package ffvideo

import (
	"strings"
	"testing"

	"github.com/gowvp/nora/pkg/video"
)

func TestParseRate(t *testing.T) {
	cases := map[string]float64{
		"30/1":       30,
		"25":         25,
		"0/0":        0,
		"":           0,
		"30000/1001": 30000.0 / 1001.0,
	}
	for in, want := range cases {
		if got := parseRate(in); got != want {
			t.Errorf("parseRate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseProbe(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		const out = `{"streams":[{"width":640,"height":480,"avg_frame_rate":"25/1","r_frame_rate":"25/1","nb_frames":"250","duration":"10.000000"}],"format":{"duration":"10.010000"}}`
		meta, err := parseProbe([]byte(out))
		if err != nil {
			t.Fatal(err)
		}
		if meta.Width != 640 || meta.Height != 480 || meta.FPS != 25 || meta.TotalFrames != 250 || meta.Duration != 10 {
			t.Fatalf("unexpected meta %+v", meta)
		}
	})

	t.Run("missing rate and count", func(t *testing.T) {
		const out = `{"streams":[{"width":320,"height":240,"avg_frame_rate":"0/0","r_frame_rate":"0/0"}],"format":{"duration":"4.0"}}`
		meta, err := parseProbe([]byte(out))
		if err != nil {
			t.Fatal(err)
		}
		if meta.FPS != 30 {
			t.Fatalf("fps = %v, want fallback 30", meta.FPS)
		}
		if meta.TotalFrames != 120 {
			t.Fatalf("total = %d, want 120", meta.TotalFrames)
		}
	})

	t.Run("no stream", func(t *testing.T) {
		if _, err := parseProbe([]byte(`{"streams":[]}`)); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestBuildFFmpegArgs(t *testing.T) {
	r := newReader(t.Context(), NewEngine("", "", "", ""), "in.mp4", video.Meta{Width: 4, Height: 2, FPS: 25})
	args := strings.Join(r.buildFFmpegArgs(12), " ")
	if !strings.Contains(args, `select=gte(n\,12)`) {
		t.Fatalf("missing select filter: %s", args)
	}
	if strings.Contains(strings.Join(r.buildFFmpegArgs(0), " "), "select") {
		t.Fatal("select filter must be omitted when decoding from the first frame")
	}
}
