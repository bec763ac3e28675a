// Package clip 将交互片段从源视频中导出为独立视频文件
package clip

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gowvp/nora/internal/core/episode"
	"github.com/gowvp/nora/pkg/video"
)

// DefaultMargin 片段前后额外保留的帧数
const DefaultMargin = 10

// Range 帧号闭区间
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len 帧数，小于等于 0 表示空区间
func (r Range) Len() int {
	return r.End - r.Start + 1
}

// Adjust 前后各扩展 margin 帧，并裁剪到 [0, total-1]
func Adjust(e episode.Episode, margin, total int) Range {
	return Range{
		Start: max(0, e.StartFrame-margin),
		End:   min(total-1, e.EndFrame+margin),
	}
}

// File 导出的片段文件
type File struct {
	Index    int             `json:"index"`
	Path     string          `json:"path"`
	Episode  episode.Episode `json:"episode"`
	Range    Range           `json:"range"`
	Expected int             `json:"expected"` // 期望帧数
	Written  int             `json:"written"`  // 实际写入帧数
	Partial  bool            `json:"partial"`  // 源视频提前结束
}

// Extractor 片段导出器
// 同一时间只持有一个解码器和一个编码器
type Extractor struct {
	opener video.Opener
	dir    string
	margin int
	guard  func(dir string) error
	log    *slog.Logger
}

type Option func(*Extractor)

// WithMargin 设置前后扩展帧数
func WithMargin(n int) Option {
	return func(e *Extractor) {
		if n >= 0 {
			e.margin = n
		}
	}
}

// WithDiskGuard 导出前检查存储空间，返回错误时放弃本次导出
func WithDiskGuard(fn func(dir string) error) Option {
	return func(e *Extractor) {
		e.guard = fn
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(e *Extractor) {
		e.log = log
	}
}

func NewExtractor(opener video.Opener, dir string, opts ...Option) *Extractor {
	e := Extractor{
		opener: opener,
		dir:    dir,
		margin: DefaultMargin,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	return &e
}

// ExtractAll 按顺序导出全部片段
// 单个片段失败只记录日志并跳过，源视频无法打开时返回错误
func (e *Extractor) ExtractAll(ctx context.Context, videoPath string, episodes []episode.Episode) ([]File, error) {
	if len(episodes) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create clip dir: %w", err)
	}
	if e.guard != nil {
		if err := e.guard(e.dir); err != nil {
			return nil, err
		}
	}

	src, err := e.opener.Open(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer src.Close()

	meta := src.Meta()
	files := make([]File, 0, len(episodes))
	for i, ep := range episodes {
		if err := ctx.Err(); err != nil {
			return files, err
		}
		f, err := e.extract(ctx, src, meta, i, ep)
		if err != nil {
			e.log.ErrorContext(ctx, "clip extraction failed",
				"index", i,
				"roi", ep.ObjectROI,
				"start_frame", ep.StartFrame,
				"end_frame", ep.EndFrame,
				"err", err,
			)
			continue
		}
		files = append(files, f)
	}
	e.log.InfoContext(ctx, "clips exported", "total", len(episodes), "ok", len(files), "dir", e.dir)
	return files, nil
}

func (e *Extractor) extract(ctx context.Context, src video.Source, meta video.Meta, index int, ep episode.Episode) (File, error) {
	r := Adjust(ep, e.margin, meta.TotalFrames)
	if r.Len() <= 0 {
		return File{}, fmt.Errorf("empty frame range %d..%d (total %d)", r.Start, r.End, meta.TotalFrames)
	}
	if err := src.Seek(r.Start); err != nil {
		return File{}, fmt.Errorf("seek to %d: %w", r.Start, err)
	}

	path := filepath.Join(e.dir, FileName(index, ep))
	w, err := e.opener.Create(ctx, path, meta)
	if err != nil {
		return File{}, fmt.Errorf("create %s: %w", path, err)
	}

	var (
		written int
		readErr error
	)
	for written < r.Len() {
		frame, err := src.Read()
		if err != nil {
			readErr = err
			break
		}
		if err := w.Write(frame); err != nil {
			_ = w.Close()
			return File{}, fmt.Errorf("write frame %d: %w", frame.Index, err)
		}
		written++
	}
	if err := w.Close(); err != nil {
		return File{}, fmt.Errorf("close %s: %w", path, err)
	}

	f := File{
		Index:    index,
		Path:     path,
		Episode:  ep,
		Range:    r,
		Expected: r.Len(),
		Written:  written,
		Partial:  written < r.Len(),
	}
	if f.Partial {
		e.log.WarnContext(ctx, "clip truncated, source ended early",
			"path", path,
			"expected", f.Expected,
			"written", written,
			"err", readErr,
		)
	}
	return f, nil
}
