// Package episode 将逐帧交互序列切分为交互片段(episode)
package episode

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gowvp/nora/internal/core/proximity"
	"github.com/gowvp/nora/internal/core/track"
)

// Episode 一段连续的物体交互，帧号闭区间
type Episode struct {
	StartFrame      int     `json:"start_frame"`
	EndFrame        int     `json:"end_frame"`
	Duration        int     `json:"duration"` // 帧数 = EndFrame - StartFrame + 1
	ClassID         int     `json:"class_id"`
	ObjectROI       string  `json:"object_roi"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Params 切分参数
type Params struct {
	MinInteractionFrames int `json:"min_interaction_frames"`  // 连续交互多少帧后开启片段
	MaxGapFrames         int `json:"max_gap_frames"`          // 片段内允许的连续非交互帧数
	MaxClassChangeFrames int `json:"max_class_change_frames"` // 片段内允许的连续异类帧数
}

func (p Params) Validate() error {
	var errs []error
	if p.MinInteractionFrames < 1 {
		errs = append(errs, fmt.Errorf("min_interaction_frames must be >= 1, got %d", p.MinInteractionFrames))
	}
	if p.MaxGapFrames < 0 {
		errs = append(errs, fmt.Errorf("max_gap_frames must be >= 0, got %d", p.MaxGapFrames))
	}
	if p.MaxClassChangeFrames < 0 {
		errs = append(errs, fmt.Errorf("max_class_change_frames must be >= 0, got %d", p.MaxClassChangeFrames))
	}
	return errors.Join(errs...)
}

// Segment 对单个 ROI 的交互序列做切分，series 与 t.Frames 下标对齐
func Segment(t *track.Track, s proximity.Series, p Params) []Episode {
	m := NewMachine(s.ROI.Name, p)
	for i, rec := range t.All() {
		m.Step(Sample{
			Frame:       rec.Frame,
			Interacting: i < len(s.Interacting) && s.Interacting[i],
			ClassID:     rec.ClassID,
		})
	}
	return m.Finish()
}

// SegmentAll 切分全部 ROI，结果合并后按开始帧稳定排序，并按 fps 换算秒数
func SegmentAll(t *track.Track, series []proximity.Series, p Params, fps float64) ([]Episode, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps: %v", fps)
	}

	var out []Episode
	for _, s := range series {
		out = append(out, Segment(t, s, p)...)
	}
	slices.SortStableFunc(out, func(a, b Episode) int {
		return a.StartFrame - b.StartFrame
	})
	for i := range out {
		out[i].DurationSeconds = float64(out[i].Duration) / fps
	}
	return out, nil
}
