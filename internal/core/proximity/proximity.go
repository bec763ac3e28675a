// Package proximity 逐帧判断被追踪关键点是否与各 ROI 发生交互
package proximity

import (
	"log/slog"

	"github.com/gowvp/nora/internal/core/roi"
	"github.com/gowvp/nora/internal/core/track"
)

// Config 判定参数
type Config struct {
	Keypoint  string  // 被追踪的关键点，通常为鼻尖
	Threshold float64 // ClassNearMatch 区域允许的最大距离(像素)
}

// Series 单个 ROI 的逐帧交互结果，与 Track.Frames 下标对齐
type Series struct {
	ROI         roi.ROI
	Interacting []bool
}

// Interacting 单帧判定
// ClassNearMatch 区域: 点在区域内或距离不超过阈值；其它区域: 点严格位于区域内
// 关键点缺失时不交互
func Interacting(r roi.ROI, kp track.Keypoint, threshold float64) bool {
	if !kp.Valid {
		return false
	}
	if r.RequiresNearMatch() {
		return r.Box.Contains(kp.X, kp.Y) || r.Box.Distance(kp.X, kp.Y) <= threshold
	}
	return r.Box.Contains(kp.X, kp.Y)
}

// Classify 一次遍历检测序列，得到每个 ROI 的交互序列
// 检测表中没有被追踪的关键点时全部为不交互
func Classify(t *track.Track, rois []roi.ROI, cfg Config) []Series {
	out := make([]Series, len(rois))
	for i, r := range rois {
		out[i] = Series{ROI: r, Interacting: make([]bool, t.Len())}
	}

	idx := t.KeypointIndex(cfg.Keypoint)
	if idx < 0 {
		slog.Warn("tracked keypoint not present in detections, no interaction possible",
			"keypoint", cfg.Keypoint,
			"keypoints", t.Keypoints,
		)
		return out
	}

	for i, rec := range t.All() {
		kp := rec.Keypoint(idx)
		if !kp.Valid {
			continue
		}
		for j := range out {
			out[j].Interacting[i] = Interacting(out[j].ROI, kp, cfg.Threshold)
		}
	}
	return out
}
