// Package localstorage 将上传文件保存到本地存储目录
package localstorage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gowvp/nora/internal/core/experiment"
)

var _ experiment.FileStorage = (*Storage)(nil)

// Storage 本地文件存储
type Storage struct {
	dir    string
	prefix string
	// Interval 进度日志间隔
	Interval time.Duration
}

// New dir 为存储根目录，prefix 为静态文件访问前缀，如 /static/experiments
func New(dir, prefix string) *Storage {
	return &Storage{dir: dir, prefix: strings.TrimSuffix(prefix, "/"), Interval: 3 * time.Second}
}

// Dir 存储根目录
func (s *Storage) Dir() string {
	return s.dir
}

// Save 写入 dir/name，先写临时文件再重命名
func (s *Storage) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}

	total := int64(-1)
	if sz, ok := r.(interface{ Size() int64 }); ok {
		total = sz.Size()
	}
	p := NewProgressReader(total, r, s.Interval, func(current, total int64) {
		slog.DebugContext(ctx, "upload progress", "name", name, "current", current, "total", total)
	})
	_, err = io.Copy(f, p)
	p.Close()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	slog.InfoContext(ctx, "file saved", "path", path, "size", p.Current.Load())
	return path, nil
}

// URL 存储目录内的文件转换为静态访问地址，目录外的文件原样返回
func (s *Storage) URL(path string) string {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return s.prefix + "/" + filepath.ToSlash(rel)
}

func (s *Storage) resolve(name string) (string, error) {
	clean := filepath.Clean("/" + name)
	if clean == "/" {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(s.dir, clean), nil
}

// ProgressReader 统计已读取的字节数，并定时回调
type ProgressReader struct {
	Total   int64
	Current atomic.Int64
	io.Reader
	onProgress func(current, total int64)
	quit       chan struct{}
	done       chan struct{}
}

func NewProgressReader(total int64, r io.Reader, interval time.Duration, onProgress func(current, total int64)) *ProgressReader {
	p := ProgressReader{
		Total:      total,
		Reader:     r,
		onProgress: onProgress,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if onProgress != nil && interval > 0 {
		go p.report(interval)
	} else {
		close(p.done)
	}
	return &p
}

func (p *ProgressReader) report(interval time.Duration) {
	defer close(p.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.onProgress(p.Current.Load(), p.Total)
		case <-p.quit:
			p.onProgress(p.Current.Load(), p.Total)
			return
		}
	}
}

// Close 停止回调，返回前会回调一次最终进度
func (p *ProgressReader) Close() {
	close(p.quit)
	<-p.done
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.Reader.Read(b)
	p.Current.Add(int64(n))
	return n, err
}
