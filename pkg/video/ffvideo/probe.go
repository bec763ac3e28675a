package ffvideo

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gowvp/nora/pkg/video"
)

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		RFrameRate   string `json:"r_frame_rate"`
		NbFrames     string `json:"nb_frames"`
		Duration     string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(b []byte) (video.Meta, error) {
	var out probeOutput
	if err := json.Unmarshal(b, &out); err != nil {
		return video.Meta{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return video.Meta{}, fmt.Errorf("no video stream")
	}
	s := out.Streams[0]

	duration := parseFloat(s.Duration)
	if duration <= 0 {
		duration = parseFloat(out.Format.Duration)
	}
	total, _ := strconv.Atoi(s.NbFrames)

	rate := parseRate(s.AvgFrameRate)
	if rate <= 0 {
		rate = parseRate(s.RFrameRate)
	}
	fps := video.ResolveFPS(rate, total, duration)
	// 部分容器不记录帧数
	if total <= 0 && duration > 0 {
		total = int(math.Round(duration * fps))
	}

	return video.Meta{
		Width:       s.Width,
		Height:      s.Height,
		FPS:         fps,
		TotalFrames: total,
		Duration:    duration,
	}, nil
}

// parseRate 解析 "30000/1001" 形式的帧率
func parseRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return parseFloat(s)
	}
	n, d := parseFloat(num), parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return v
}
