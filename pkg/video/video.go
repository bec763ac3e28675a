// Package video 定义逐帧读取与写入视频的抽象，具体实现见 ffvideo 与 cvvideo
package video

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// DefaultFPS 无法从视频得到有效帧率时使用
const DefaultFPS = 30.0

type (
	// Meta 视频流基本信息
	Meta struct {
		Width       int     `json:"width"`
		Height      int     `json:"height"`
		FPS         float64 `json:"fps"`
		TotalFrames int     `json:"total_frames"`
		Duration    float64 `json:"duration"` // 秒
	}

	// Frame 解码后的一帧，像素格式为 BGR24
	Frame struct {
		Index int
		Data  []byte
	}

	// Source 可定位的逐帧读取器，读完返回 io.EOF
	Source interface {
		Meta() Meta
		Seek(frame int) error
		Read() (*Frame, error)
		Close() error
	}

	// Writer 逐帧写入编码器
	Writer interface {
		Write(*Frame) error
		Close() error
	}

	// Opener 视频后端
	Opener interface {
		Open(ctx context.Context, path string) (Source, error)
		Create(ctx context.Context, path string, meta Meta) (Writer, error)
	}
)

// FrameSize 一帧 BGR24 数据的字节数
func (m Meta) FrameSize() int {
	return m.Width * m.Height * 3
}

// ResolveFPS 返回可用帧率
// 视频自带帧率无效时按 总帧数/时长 推算，仍无效则使用 DefaultFPS
func ResolveFPS(reported float64, totalFrames int, duration float64) float64 {
	if reported > 0 && !math.IsInf(reported, 0) && !math.IsNaN(reported) {
		return reported
	}
	if totalFrames > 0 && duration > 0 {
		return float64(totalFrames) / duration
	}
	return DefaultFPS
}

var (
	backendsM sync.RWMutex
	backends  = make(map[string]func() Opener)
)

// Register 注册视频后端，同名覆盖
func Register(name string, fn func() Opener) {
	backendsM.Lock()
	defer backendsM.Unlock()
	backends[name] = fn
}

// Lookup 根据名称获取视频后端
func Lookup(name string) (Opener, error) {
	backendsM.RLock()
	defer backendsM.RUnlock()
	fn, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("video backend %q not registered, available %v", name, backendNames())
	}
	return fn(), nil
}

func backendNames() []string {
	names := make([]string, 0, len(backends))
	for k := range backends {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
