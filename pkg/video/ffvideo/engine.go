// Package ffvideo 基于 ffmpeg/ffprobe 子进程实现逐帧读写
package ffvideo

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/gowvp/nora/pkg/video"
)

var _ video.Opener = (*Engine)(nil)

// Name 注册的后端名称
const Name = "ffmpeg"

func init() {
	video.Register(Name, func() video.Opener { return NewEngine("", "", "", "") })
}

// killTimeout 关闭时等待 ffmpeg 退出的时间，超时后强制结束
const killTimeout = 5 * time.Second

// Engine ffmpeg 视频后端
type Engine struct {
	FFmpeg  string
	FFprobe string
	Codec   string
	HWAccel string
}

// NewEngine 空参数使用默认值
func NewEngine(ffmpeg, ffprobe, codec, hwaccel string) *Engine {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	if codec == "" {
		codec = "mpeg4"
	}
	return &Engine{FFmpeg: ffmpeg, FFprobe: ffprobe, Codec: codec, HWAccel: hwaccel}
}

// Open 探测视频信息并准备解码，解码进程在首次读取时启动
func (e *Engine) Open(ctx context.Context, path string) (video.Source, error) {
	meta, err := e.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if meta.Width <= 0 || meta.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", meta.Width, meta.Height)
	}
	return newReader(ctx, e, path, meta), nil
}

// Create 启动编码进程，按 meta 描述的尺寸与帧率接收 BGR24 帧
func (e *Engine) Create(ctx context.Context, path string, meta video.Meta) (video.Writer, error) {
	if meta.Width <= 0 || meta.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", meta.Width, meta.Height)
	}
	if meta.FPS <= 0 {
		return nil, fmt.Errorf("invalid fps: %v", meta.FPS)
	}
	return newWriter(ctx, e, path, meta)
}

// Probe 使用 ffprobe 读取视频流信息
func (e *Engine) Probe(ctx context.Context, path string) (video.Meta, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,avg_frame_rate,r_frame_rate,nb_frames,duration:format=duration",
		"-of", "json",
		path,
	}
	out, err := exec.CommandContext(ctx, e.FFprobe, args...).Output()
	if err != nil {
		return video.Meta{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbe(out)
}

// waitOrKill 等待进程退出，超时后强制结束
func waitOrKill(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()
	select {
	case <-time.After(killTimeout):
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill ffmpeg: %w", err)
		}
		return <-done
	case err := <-done:
		return err
	}
}
