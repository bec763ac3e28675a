package ffvideo

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/gowvp/nora/pkg/video"
	"github.com/ixugo/goddd/pkg/queue"
)

var _ video.Writer = (*Writer)(nil)

// Writer 将 BGR24 原始帧通过 stdin 交给 ffmpeg 编码
type Writer struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	frameSize int
	wg        sync.WaitGroup
	ffmpegLog *queue.CirQueue[string]
	closed    bool
}

func newWriter(ctx context.Context, e *Engine, path string, meta video.Meta) (*Writer, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", meta.Width, meta.Height),
		"-r", strconv.FormatFloat(meta.FPS, 'f', -1, 64),
		"-i", "pipe:0",
		"-an",
		"-c:v", e.Codec,
		"-pix_fmt", "yuv420p",
		path,
	}
	cmd := exec.CommandContext(ctx, e.FFmpeg, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	w := Writer{
		cmd:       cmd,
		stdin:     stdin,
		frameSize: meta.FrameSize(),
		ffmpegLog: queue.NewCirQueue[string](100),
	}
	w.wg.Go(func() { readStderr(stderr, w.ffmpegLog) })
	return &w, nil
}

func (w *Writer) Write(f *video.Frame) error {
	if len(f.Data) != w.frameSize {
		return fmt.Errorf("frame size mismatch: %d != %d", len(f.Data), w.frameSize)
	}
	if _, err := w.stdin.Write(f.Data); err != nil {
		return fmt.Errorf("write frame %d: %w", f.Index, err)
	}
	return nil
}

// Close 结束输入并等待编码完成
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.stdin.Close()
	w.wg.Wait()
	if err := waitOrKill(w.cmd); err != nil {
		return fmt.Errorf("ffmpeg encode: %w: %s", err, strings.Join(w.ffmpegLog.Range(), "; "))
	}
	return nil
}
