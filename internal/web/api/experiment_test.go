package api

import (
	"strings"
	"testing"

	"github.com/gowvp/nora/internal/conf"
	"github.com/gowvp/nora/internal/core/experiment"
)

func TestGenerateM3U8(t *testing.T) {
	toURL := func(path string) string {
		return "/static/experiments/" + strings.TrimPrefix(path, "/data/")
	}
	clips := []*experiment.Clip{
		{ID: 1, Path: "/data/1/clips/a.mp4", Duration: 1.5, Valid: true},
		{ID: 2, Path: "/data/1/clips/b.mp4", Duration: 2, Valid: false},
		{ID: 3, Path: "/data/1/clips/c.mp4", Duration: 0.5, Valid: true},
	}

	out := generateM3U8(clips, toURL, "abc")
	if !strings.Contains(out, "#EXT-X-PLAYLIST-TYPE:VOD") || !strings.Contains(out, "#EXT-X-ENDLIST") {
		t.Fatalf("expect closed vod playlist:\n%s", out)
	}
	if !strings.Contains(out, "/static/experiments/1/clips/a.mp4?token=abc") ||
		!strings.Contains(out, "/static/experiments/1/clips/c.mp4?token=abc") {
		t.Fatalf("missing clip uri:\n%s", out)
	}
	if strings.Contains(out, "b.mp4") {
		t.Fatalf("invalid clip should be skipped:\n%s", out)
	}
	if n := strings.Count(out, "#EXT-X-DISCONTINUITY"); n != 1 {
		t.Fatalf("expect 1 discontinuity, got %d:\n%s", n, out)
	}

	if out := generateM3U8(clips[1:2], toURL, ""); out != "" {
		t.Fatalf("expect empty playlist, got:\n%s", out)
	}
}

func TestNewPipelineConfig(t *testing.T) {
	cfg := NewPipelineConfig(conf.Analysis{}, "/tmp/w")
	if cfg.WorkDir != "/tmp/w" || cfg.TrackedKeypoint != "nose" || cfg.Segment.MaxGapFrames != 20 {
		t.Fatalf("zero values should keep defaults, got %+v", cfg)
	}

	cfg = NewPipelineConfig(conf.Analysis{
		TrackedKeypoint:    "head",
		ProximityThreshold: 25,
		MaxGapFrames:       5,
		ExplorationClasses: []int{0, 1},
		ClipMarginFrames:   3,
	}, "/tmp/w")
	if cfg.TrackedKeypoint != "head" || cfg.ProximityThreshold != 25 || cfg.Segment.MaxGapFrames != 5 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.ExplorationClasses) != 2 || cfg.ClipMargin != 3 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Segment.MinInteractionFrames != 4 {
		t.Fatalf("unset field should keep default, got %d", cfg.Segment.MinInteractionFrames)
	}
}
