package proximity

import (
	"testing"

	"github.com/gowvp/nora/internal/core/roi"
	"github.com/gowvp/nora/internal/core/track"
)

func TestInteracting(t *testing.T) {
	near := roi.ROI{Name: "near", ClassID: roi.ClassNearMatch, Box: roi.Box{X1: 100, Y1: 100, X2: 200, Y2: 200}}
	strict := roi.ROI{Name: "strict", ClassID: 1, Box: near.Box}

	cases := []struct {
		name string
		r    roi.ROI
		kp   track.Keypoint
		want bool
	}{
		{name: "near inside", r: near, kp: track.Keypoint{X: 150, Y: 150, Valid: true}, want: true},
		{name: "near within threshold", r: near, kp: track.Keypoint{X: 60, Y: 150, Valid: true}, want: true},
		{name: "near exactly threshold", r: near, kp: track.Keypoint{X: 240, Y: 150, Valid: true}, want: true},
		{name: "near beyond threshold", r: near, kp: track.Keypoint{X: 241, Y: 150, Valid: true}, want: false},
		{name: "near missing keypoint", r: near, kp: track.Keypoint{X: 150, Y: 150}, want: false},
		{name: "strict inside", r: strict, kp: track.Keypoint{X: 150, Y: 150, Valid: true}, want: true},
		{name: "strict on boundary", r: strict, kp: track.Keypoint{X: 100, Y: 150, Valid: true}, want: false},
		{name: "strict close outside", r: strict, kp: track.Keypoint{X: 99, Y: 150, Valid: true}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Interacting(tc.r, tc.kp, 40); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tr := &track.Track{
		Keypoints: []string{"head", "nose"},
		Frames: []track.FrameRecord{
			{Frame: 0, ClassID: 0, Keypoints: []track.Keypoint{{}, {X: 15, Y: 15, Valid: true}}},
			{Frame: 1, ClassID: track.NoClass, Keypoints: []track.Keypoint{{}, {}}},
			{Frame: 2, ClassID: 0, Keypoints: []track.Keypoint{{X: 15, Y: 15, Valid: true}, {X: 500, Y: 500, Valid: true}}},
		},
	}
	rois := []roi.ROI{
		{Name: "a", ClassID: 0, Box: roi.Box{X1: 10, Y1: 10, X2: 20, Y2: 20}},
		{Name: "b", ClassID: 1, Box: roi.Box{X1: 0, Y1: 0, X2: 30, Y2: 30}},
	}

	series := Classify(tr, rois, Config{Keypoint: "nose", Threshold: 40})
	if len(series) != 2 {
		t.Fatalf("series = %d", len(series))
	}
	want := [][]bool{{true, false, false}, {true, false, false}}
	for i, s := range series {
		if len(s.Interacting) != tr.Len() {
			t.Fatalf("series %s length %d", s.ROI.Name, len(s.Interacting))
		}
		for j := range want[i] {
			if s.Interacting[j] != want[i][j] {
				t.Fatalf("series %s frame %d = %v", s.ROI.Name, j, s.Interacting[j])
			}
		}
	}

	none := Classify(tr, rois, Config{Keypoint: "tail", Threshold: 40})
	for _, s := range none {
		for _, v := range s.Interacting {
			if v {
				t.Fatal("unknown keypoint must never interact")
			}
		}
	}
}
