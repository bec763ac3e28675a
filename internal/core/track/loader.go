package track

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	colFrame      = "frame"
	colClassID    = "class_id"
	colConfidence = "confidence"
)

// bbox 列可选，缺失时 HasBox=false
var bboxColumns = [4]string{"bbox_xc", "bbox_yc", "bbox_w", "bbox_h"}

// LoadFile 读取 CSV 检测表
func LoadFile(ctx context.Context, path string, keypoints []string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detections: %w", err)
	}
	defer f.Close()

	t, err := Load(ctx, f, keypoints)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return t, nil
}

// Load 读取 CSV 检测表
// 必需列: frame, class_id, confidence 以及每个关键点的 <name>_x, <name>_y, <name>_v
// 重复帧保留首次出现，乱序与重复只记录告警
func Load(ctx context.Context, r io.Reader, keypoints []string) (*Track, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &SchemaError{Missing: requiredColumns(keypoints)}
		}
		return nil, err
	}
	idx, err := indexColumns(header, keypoints)
	if err != nil {
		return nil, err
	}

	rows := make([]FrameRecord, 0, 1024)
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, err
		}
		row, err := idx.parse(rec, line)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	frames, report := Normalize(rows)
	if report.Duplicates > 0 {
		slog.WarnContext(ctx, "duplicate frames removed, first occurrence kept",
			"duplicates", report.Duplicates,
			"frames", report.DuplicateFrames,
		)
	}
	if report.Unordered {
		slog.WarnContext(ctx, "detection frames were not monotonically increasing, sorted by frame")
	}
	return &Track{Keypoints: keypoints, Frames: frames, Report: report}, nil
}

func requiredColumns(keypoints []string) []string {
	cols := []string{colFrame, colClassID, colConfidence}
	for _, k := range keypoints {
		cols = append(cols, k+"_x", k+"_y", k+"_v")
	}
	return cols
}

type columnIndex struct {
	names      []string
	frame      int
	classID    int
	confidence int
	bbox       [4]int
	hasBox     bool
	kp         [][3]int
}

func indexColumns(header []string, keypoints []string) (*columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, ok := pos[h]; !ok {
			pos[h] = i
		}
	}

	var missing []string
	for _, c := range requiredColumns(keypoints) {
		if _, ok := pos[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	idx := columnIndex{
		names:      header,
		frame:      pos[colFrame],
		classID:    pos[colClassID],
		confidence: pos[colConfidence],
		hasBox:     true,
		kp:         make([][3]int, len(keypoints)),
	}
	for i, c := range bboxColumns {
		p, ok := pos[c]
		if !ok {
			idx.hasBox = false
			break
		}
		idx.bbox[i] = p
	}
	for i, k := range keypoints {
		idx.kp[i] = [3]int{pos[k+"_x"], pos[k+"_y"], pos[k+"_v"]}
	}
	return &idx, nil
}

func (c *columnIndex) parse(rec []string, line int) (FrameRecord, error) {
	field := func(i int) string {
		if i < len(rec) {
			return rec[i]
		}
		return ""
	}

	frame, ok, err := parseNumber(field(c.frame))
	if err != nil || !ok {
		if err == nil {
			err = errors.New("frame is required")
		}
		return FrameRecord{}, &ParseError{Line: line, Column: colFrame, Value: field(c.frame), Err: err}
	}

	row := FrameRecord{Frame: int(frame), ClassID: NoClass}
	// pandas 对含空值的整数列输出为 0.0 形式
	classID, ok, err := parseNumber(field(c.classID))
	if err != nil {
		return FrameRecord{}, &ParseError{Line: line, Column: colClassID, Value: field(c.classID), Err: err}
	}
	if ok {
		row.ClassID = int(classID)
	}
	if v, ok, err := parseNumber(field(c.confidence)); err != nil {
		return FrameRecord{}, &ParseError{Line: line, Column: colConfidence, Value: field(c.confidence), Err: err}
	} else if ok {
		row.Confidence = v
	}

	if c.hasBox {
		var box [4]float64
		row.HasBox = true
		for i, p := range c.bbox {
			v, ok, err := parseNumber(field(p))
			if err != nil {
				return FrameRecord{}, &ParseError{Line: line, Column: bboxColumns[i], Value: field(p), Err: err}
			}
			if !ok {
				row.HasBox = false
			}
			box[i] = v
		}
		if row.HasBox {
			row.Box = BBox{XC: box[0], YC: box[1], W: box[2], H: box[3]}
		}
	}

	row.Keypoints = make([]Keypoint, len(c.kp))
	for i, cols := range c.kp {
		var vals [3]float64
		valid := true
		for j, p := range cols {
			v, ok, err := parseNumber(field(p))
			if err != nil {
				return FrameRecord{}, &ParseError{Line: line, Column: c.names[p], Value: field(p), Err: err}
			}
			if !ok && j < 2 {
				valid = false
			}
			vals[j] = v
		}
		if valid {
			row.Keypoints[i] = Keypoint{X: vals[0], Y: vals[1], V: vals[2], Valid: true}
		}
	}
	return row, nil
}

// parseNumber 空串、nan、None 视为空值
func parseNumber(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "none", "null", "na", "<na>":
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	if math.IsNaN(v) {
		return 0, false, nil
	}
	return v, true, nil
}
