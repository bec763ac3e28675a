// Package metrics 按 (行为类别, ROI) 汇总探索片段
package metrics

import (
	"cmp"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"

	"github.com/gowvp/nora/internal/core/episode"
)

// DefaultExplorationClasses 参与统计的默认类别(探索)
var DefaultExplorationClasses = []int{0}

// Metric 一组 (类别, ROI) 的汇总
type Metric struct {
	ClassID          int     `json:"class_id"`
	ObjectROI        string  `json:"object_roi"`
	TotalEpisodes    int     `json:"total_episodes"`
	SumFrames        int     `json:"sum_frames"`
	TotalTimeSeconds float64 `json:"total_time_seconds"`
}

// Aggregate 只统计 classes 中的类别，classes 为空时统计全部
// 秒数按片段逐个换算后累加，结果按 (类别, ROI) 排序
func Aggregate(episodes []episode.Episode, fps float64, classes []int) ([]Metric, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps: %v", fps)
	}

	type key struct {
		class int
		roi   string
	}
	groups := make(map[key]*Metric)
	for _, e := range episodes {
		if len(classes) > 0 && !slices.Contains(classes, e.ClassID) {
			continue
		}
		k := key{class: e.ClassID, roi: e.ObjectROI}
		m, ok := groups[k]
		if !ok {
			m = &Metric{ClassID: e.ClassID, ObjectROI: e.ObjectROI}
			groups[k] = m
		}
		m.TotalEpisodes++
		m.SumFrames += e.Duration
		m.TotalTimeSeconds += float64(e.Duration) / fps
	}

	out := make([]Metric, 0, len(groups))
	for _, m := range groups {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b Metric) int {
		return cmp.Or(cmp.Compare(a.ClassID, b.ClassID), cmp.Compare(a.ObjectROI, b.ObjectROI))
	})
	return out, nil
}

// SecondsByROI 各 ROI 的累计秒数
func SecondsByROI(metrics []Metric) map[string]float64 {
	out := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		out[m.ObjectROI] += m.TotalTimeSeconds
	}
	return out
}

var tableHeader = []string{"class_id", "object_roi", "total_episodes", "sum_frames", "total_time_seconds"}

// WriteCSV 输出汇总表
func WriteCSV(w io.Writer, metrics []Metric) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tableHeader); err != nil {
		return err
	}
	for _, m := range metrics {
		if err := cw.Write([]string{
			strconv.Itoa(m.ClassID),
			m.ObjectROI,
			strconv.Itoa(m.TotalEpisodes),
			strconv.Itoa(m.SumFrames),
			strconv.FormatFloat(m.TotalTimeSeconds, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteFile(path string, metrics []Metric) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, metrics); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}
