package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gowvp/nora/internal/core/episode"
	"github.com/gowvp/nora/internal/core/roi"
	"github.com/gowvp/nora/pkg/video"
	"github.com/gowvp/nora/pkg/video/videotest"
)

const roiJSON = `{
  "roi_0": {"name": "cap_blue", "class_id": 0, "confidence": 0.9, "box": {"x1": 100, "y1": 100, "x2": 150, "y2": 150}, "box_normalized": [0.1, 0.1, 0.15, 0.15], "frame": 20},
  "roi_1": {"name": "cap_orange", "class_id": 1, "confidence": 0.8, "box": {"x1": 400, "y1": 400, "x2": 450, "y2": 450}, "box_normalized": [0.4, 0.4, 0.45, 0.45], "frame": 20}
}`

// detectionsCSV 30 帧，鼻尖在第 5..14 帧位于 cap_blue 内，其余帧远离两个区域
func detectionsCSV() string {
	var b strings.Builder
	b.WriteString("frame,class_id,confidence,nose_x,nose_y,nose_v\n")
	for i := range 30 {
		x, y := 800.0, 800.0
		if i >= 5 && i <= 14 {
			x, y = 120, 120
		}
		fmt.Fprintf(&b, "%d,0,0.9,%v,%v,0.9\n", i, x, y)
	}
	return b.String()
}

func testConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.Keypoints = []string{"nose"}
	cfg.Segment = episode.Params{MinInteractionFrames: 4, MaxGapFrames: 3, MaxClassChangeFrames: 3}
	cfg.ClipMargin = 2
	return cfg
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newOpener() *videotest.Opener {
	return &videotest.Opener{Meta: video.Meta{Width: 1000, Height: 1000, FPS: 10, TotalFrames: 30, Duration: 3}}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	det := writeFile(t, dir, "pred.csv", detectionsCSV())
	rois := writeFile(t, dir, "rois.json", roiJSON)
	opener := newOpener()

	p := New(testConfig(filepath.Join(dir, "work")), opener)
	res, err := p.Run(context.Background(), Input{
		VideoPath:     "video.mp4",
		ROIPath:       rois,
		DetectionPath: det,
		ExportClips:   true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Episodes) != 1 {
		t.Fatalf("episodes = %+v", res.Episodes)
	}
	ep := res.Episodes[0]
	if ep.StartFrame != 5 || ep.EndFrame != 14 || ep.ObjectROI != "cap_blue" || ep.DurationSeconds != 1 {
		t.Fatalf("unexpected episode %+v", ep)
	}
	if len(res.AggregatedMetrics) != 1 || res.AggregatedMetrics[0].TotalTimeSeconds != 1 {
		t.Fatalf("unexpected metrics %+v", res.AggregatedMetrics)
	}
	if res.ROISourcePath != rois || res.DetectionSourcePath != det {
		t.Fatalf("unexpected sources %s %s", res.ROISourcePath, res.DetectionSourcePath)
	}
	if len(res.GeneratedClips) != 1 {
		t.Fatalf("clips = %+v", res.GeneratedClips)
	}
	c := res.GeneratedClips[0]
	if c.Range.Start != 3 || c.Range.End != 16 || filepath.Base(c.Path) != "clip_0_class_0_roi_cap_blue.mp4" {
		t.Fatalf("unexpected clip %+v", c)
	}
	for _, f := range []string{res.EpisodesPath, res.AggregatedPath, c.Path} {
		if _, err := os.Stat(f); err != nil {
			t.Fatal(err)
		}
	}
	if !opener.Balanced() {
		t.Fatal("video sources left open")
	}
}

func TestRunWithoutClips(t *testing.T) {
	dir := t.TempDir()
	det := writeFile(t, dir, "pred.csv", detectionsCSV())
	rois := writeFile(t, dir, "rois.json", roiJSON)

	res, err := New(testConfig(dir), newOpener()).Run(context.Background(), Input{
		VideoPath:     "video.mp4",
		ROIPath:       rois,
		DetectionPath: det,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.GeneratedClips == nil || len(res.GeneratedClips) != 0 {
		t.Fatalf("expected empty clip list, got %+v", res.GeneratedClips)
	}
}

func TestRunProvidedROIs(t *testing.T) {
	dir := t.TempDir()
	det := writeFile(t, dir, "pred.csv", detectionsCSV())

	res, err := New(testConfig(dir), newOpener()).Run(context.Background(), Input{
		VideoPath:     "video.mp4",
		DetectionPath: det,
		ROIs: []roi.Provided{
			{Name: "left", X1: 100, Y1: 100, X2: 150, Y2: 150},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ROISourcePath != filepath.Join(dir, ProvidedROIsFile) {
		t.Fatalf("roi source %s", res.ROISourcePath)
	}
	saved, err := roi.LoadFile(res.ROISourcePath)
	if err != nil {
		t.Fatal(err)
	}
	left, ok := saved.Get("left")
	if !ok || left.Normalized != [4]float64{0.1, 0.1, 0.15, 0.15} {
		t.Fatalf("saved roi %+v", left)
	}
	if len(res.Episodes) != 1 || res.Episodes[0].ObjectROI != "left" {
		t.Fatalf("episodes %+v", res.Episodes)
	}
}

type fakeDetector struct {
	roiCalls, kpCalls int
	frame             int
}

func (f *fakeDetector) DetectROIs(_ context.Context, _, out string, frame int) error {
	f.roiCalls++
	f.frame = frame
	return os.WriteFile(out, []byte(roiJSON), 0o644)
}

func (f *fakeDetector) DetectKeypoints(_ context.Context, _, out string) error {
	f.kpCalls++
	return os.WriteFile(out, []byte(detectionsCSV()), 0o644)
}

func TestRunAutosegment(t *testing.T) {
	dir := t.TempDir()
	d := &fakeDetector{}
	cfg := testConfig(dir)
	cfg.ROIFrameIndex = 7

	res, err := New(cfg, newOpener(), WithDetector(d)).Run(context.Background(), Input{
		VideoPath:            "video.mp4",
		AutosegmentIfMissing: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if d.roiCalls != 1 || d.kpCalls != 1 || d.frame != 7 {
		t.Fatalf("detector calls %+v", d)
	}
	if filepath.Base(res.ROISourcePath) != "rois_frame_7.json" || filepath.Base(res.DetectionSourcePath) != DetectionsFile {
		t.Fatalf("sources %s %s", res.ROISourcePath, res.DetectionSourcePath)
	}
	if len(res.Episodes) != 1 {
		t.Fatalf("episodes %+v", res.Episodes)
	}
}

func TestRunErrors(t *testing.T) {
	dir := t.TempDir()
	det := writeFile(t, dir, "pred.csv", detectionsCSV())
	rois := writeFile(t, dir, "rois.json", roiJSON)

	t.Run("no rois", func(t *testing.T) {
		_, err := New(testConfig(dir), newOpener()).Run(context.Background(), Input{VideoPath: "v.mp4", DetectionPath: det})
		if !errors.Is(err, ErrNoROIs) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("autosegment without detector", func(t *testing.T) {
		_, err := New(testConfig(dir), newOpener()).Run(context.Background(), Input{VideoPath: "v.mp4", DetectionPath: det, AutosegmentIfMissing: true})
		if !errors.Is(err, ErrNoDetector) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("no detections without detector", func(t *testing.T) {
		_, err := New(testConfig(dir), newOpener()).Run(context.Background(), Input{VideoPath: "v.mp4", ROIPath: rois})
		if !errors.Is(err, ErrNoDetector) {
			t.Fatalf("got %v", err)
		}
	})
	t.Run("unreadable video", func(t *testing.T) {
		opener := &videotest.Opener{OpenErr: errors.New("moov atom not found")}
		_, err := New(testConfig(dir), opener).Run(context.Background(), Input{VideoPath: "v.mp4", ROIPath: rois, DetectionPath: det})
		if err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("invalid params", func(t *testing.T) {
		cfg := testConfig(dir)
		cfg.Segment.MinInteractionFrames = 0
		if _, err := New(cfg, newOpener()).Run(context.Background(), Input{VideoPath: "v.mp4", ROIPath: rois, DetectionPath: det}); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestRunFPSFallback(t *testing.T) {
	dir := t.TempDir()
	det := writeFile(t, dir, "pred.csv", detectionsCSV())
	rois := writeFile(t, dir, "rois.json", roiJSON)
	opener := &videotest.Opener{Meta: video.Meta{Width: 1000, Height: 1000, TotalFrames: 30, Duration: 6}}

	res, err := New(testConfig(dir), opener).Run(context.Background(), Input{VideoPath: "v.mp4", ROIPath: rois, DetectionPath: det})
	if err != nil {
		t.Fatal(err)
	}
	if res.FPS != 5 || res.Episodes[0].DurationSeconds != 2 {
		t.Fatalf("fps %v episodes %+v", res.FPS, res.Episodes)
	}
}
