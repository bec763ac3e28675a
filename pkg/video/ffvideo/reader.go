package ffvideo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/gowvp/nora/pkg/video"
	"github.com/ixugo/goddd/pkg/queue"
)

var _ video.Source = (*Reader)(nil)

// Reader 通过 ffmpeg 将视频解码为 BGR24 原始帧
// 向后定位会重启解码进程，向前定位直接丢弃中间帧
type Reader struct {
	engine    *Engine
	path      string
	meta      video.Meta
	frameSize int

	ctx    context.Context
	cancel context.CancelFunc
	cmd    *exec.Cmd
	stdout *bufio.Reader
	wg     sync.WaitGroup

	// next 下一次 Read 返回的帧号
	next      int
	ffmpegLog *queue.CirQueue[string]
}

func newReader(ctx context.Context, e *Engine, path string, meta video.Meta) *Reader {
	return &Reader{
		engine:    e,
		path:      path,
		meta:      meta,
		frameSize: meta.FrameSize(),
		ctx:       ctx,
		ffmpegLog: queue.NewCirQueue[string](100),
	}
}

func (r *Reader) Meta() video.Meta {
	return r.meta
}

// Log 最近的 ffmpeg 输出，用于排查解码失败
func (r *Reader) Log() []string {
	return r.ffmpegLog.Range()
}

func (r *Reader) Seek(frame int) error {
	if frame < 0 {
		frame = 0
	}
	if r.cmd != nil && frame >= r.next {
		for r.next < frame {
			if _, err := r.Read(); err != nil {
				return err
			}
		}
		return nil
	}
	if err := r.stop(); err != nil {
		return err
	}
	r.next = frame
	return nil
}

func (r *Reader) Read() (*video.Frame, error) {
	if r.cmd == nil {
		if err := r.start(r.next); err != nil {
			return nil, err
		}
	}

	data := make([]byte, r.frameSize)
	if _, err := io.ReadFull(r.stdout, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}
	frame := video.Frame{Index: r.next, Data: data}
	r.next++
	return &frame, nil
}

func (r *Reader) Close() error {
	return r.stop()
}

func (r *Reader) buildFFmpegArgs(from int) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-threads", "2",
	}
	if r.engine.HWAccel != "" {
		args = append(args, "-hwaccel", r.engine.HWAccel)
	}
	args = append(args, "-i", r.path)
	if from > 0 {
		// 按帧号过滤保证定位精确到帧，关键帧 seek 做不到
		args = append(args, "-vf", `select=gte(n\,`+strconv.Itoa(from)+`)`)
	}
	args = append(args,
		"-fps_mode", "passthrough",
		"-an",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"pipe:1",
	)
	return args
}

func (r *Reader) start(from int) error {
	ctx, cancel := context.WithCancel(r.ctx)
	cmd := exec.CommandContext(ctx, r.engine.FFmpeg, r.buildFFmpegArgs(from)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	r.cmd, r.cancel = cmd, cancel
	r.stdout = bufio.NewReaderSize(stdout, r.frameSize*4)
	r.wg.Go(func() { readStderr(stderr, r.ffmpegLog) })
	return nil
}

func (r *Reader) stop() error {
	if r.cmd == nil {
		return nil
	}
	r.cancel()
	r.wg.Wait()
	// 进程由 cancel 结束，退出码无意义
	_ = waitOrKill(r.cmd)
	r.cmd, r.stdout, r.cancel = nil, nil, nil
	return nil
}

// readStderr 保留 ffmpeg 的警告与错误输出
func readStderr(stderr io.Reader, log *queue.CirQueue[string]) {
	scan := bufio.NewScanner(stderr)
	for scan.Scan() {
		log.Push(scan.Text())
	}
}
