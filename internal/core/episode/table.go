package episode

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

var tableHeader = []string{"start_frame", "end_frame", "duration", "class_id", "object_roi", "duration_seconds"}

// WriteCSV 输出片段表
func WriteCSV(w io.Writer, episodes []Episode) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tableHeader); err != nil {
		return err
	}
	for _, e := range episodes {
		if err := cw.Write([]string{
			strconv.Itoa(e.StartFrame),
			strconv.Itoa(e.EndFrame),
			strconv.Itoa(e.Duration),
			strconv.Itoa(e.ClassID),
			e.ObjectROI,
			strconv.FormatFloat(e.DurationSeconds, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile 将片段表写入文件
func WriteFile(path string, episodes []Episode) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteCSV(f, episodes); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}

// ReadCSV 读取 WriteCSV 输出的片段表，列顺序不限
func ReadCSV(r io.Reader) ([]Episode, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[h] = i
	}
	for _, h := range tableHeader {
		if _, ok := pos[h]; !ok {
			return nil, fmt.Errorf("episode table missing column %q", h)
		}
	}

	var out []Episode
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		var e Episode
		ints := []struct {
			col string
			dst *int
		}{
			{"start_frame", &e.StartFrame},
			{"end_frame", &e.EndFrame},
			{"duration", &e.Duration},
			{"class_id", &e.ClassID},
		}
		for _, v := range ints {
			n, err := strconv.Atoi(rec[pos[v.col]])
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, v.col, err)
			}
			*v.dst = n
		}
		e.ObjectROI = rec[pos["object_roi"]]
		if e.DurationSeconds, err = strconv.ParseFloat(rec[pos["duration_seconds"]], 64); err != nil {
			return nil, fmt.Errorf("line %d column duration_seconds: %w", line, err)
		}
		out = append(out, e)
	}
}
