// Package track 读取逐帧检测结果(姿态关键点与行为分类)
package track

import (
	"iter"
	"slices"
)

// NoClass 该帧没有检测结果
const NoClass = -1

type (
	// Keypoint 关键点坐标与可见度，Valid=false 表示缺失
	Keypoint struct {
		X, Y, V float64
		Valid   bool
	}

	// BBox 检测框，中心点加宽高
	BBox struct {
		XC, YC, W, H float64
	}

	// FrameRecord 一帧的检测结果
	// 同一帧号在 Track 中只出现一次
	FrameRecord struct {
		Frame      int
		ClassID    int // NoClass 表示无检测
		Confidence float64
		Box        BBox
		HasBox     bool
		Keypoints  []Keypoint // 与 Track.Keypoints 名称一一对应
	}

	// Report 加载过程中发现的数据问题
	Report struct {
		Rows            int   `json:"rows"`
		Duplicates      int   `json:"duplicates"`
		DuplicateFrames []int `json:"duplicate_frames,omitempty"`
		Unordered       bool  `json:"unordered"`
	}

	// Track 按帧号升序、帧号唯一的检测序列
	Track struct {
		Keypoints []string
		Frames    []FrameRecord
		Report    Report
	}
)

// HasDetection 该帧是否有检测结果
func (r FrameRecord) HasDetection() bool {
	return r.ClassID != NoClass
}

// KeypointIndex 关键点名称对应的下标，不存在返回 -1
func (t *Track) KeypointIndex(name string) int {
	return slices.Index(t.Keypoints, name)
}

// Len 帧数
func (t *Track) Len() int {
	return len(t.Frames)
}

// All 按帧号升序遍历，可重复调用
func (t *Track) All() iter.Seq2[int, FrameRecord] {
	return func(yield func(int, FrameRecord) bool) {
		for i, r := range t.Frames {
			if !yield(i, r) {
				return
			}
		}
	}
}

// Keypoint 取某帧指定关键点，idx 越界时返回无效点
func (r FrameRecord) Keypoint(idx int) Keypoint {
	if idx < 0 || idx >= len(r.Keypoints) {
		return Keypoint{}
	}
	return r.Keypoints[idx]
}

// Normalize 去重(保留首次出现的帧)并按帧号稳定排序
func Normalize(rows []FrameRecord) ([]FrameRecord, Report) {
	report := Report{Rows: len(rows)}
	seen := make(map[int]struct{}, len(rows))
	out := make([]FrameRecord, 0, len(rows))
	last := -1 << 31
	for _, r := range rows {
		if r.Frame < last {
			report.Unordered = true
		}
		last = r.Frame
		if _, ok := seen[r.Frame]; ok {
			report.Duplicates++
			report.DuplicateFrames = append(report.DuplicateFrames, r.Frame)
			continue
		}
		seen[r.Frame] = struct{}{}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b FrameRecord) int {
		return a.Frame - b.Frame
	})
	return out, report
}
