// Package videotest 提供内存中的视频后端，用于测试
package videotest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/gowvp/nora/pkg/video"
)

var _ video.Opener = (*Opener)(nil)

// Opener 生成 Meta.TotalFrames 帧的虚拟视频，每帧数据为帧号
type Opener struct {
	Meta video.Meta
	// Readable 实际可读帧数，0 表示与 Meta.TotalFrames 相同
	Readable int
	OpenErr  error
	// CreateErr 按输出路径注入编码器创建失败
	CreateErr func(path string) error

	mu      sync.Mutex
	writers map[string]*Writer
	opened  int
	closed  int
}

func (o *Opener) Open(_ context.Context, path string) (video.Source, error) {
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
	readable := o.Readable
	if readable <= 0 {
		readable = o.Meta.TotalFrames
	}
	return &source{owner: o, meta: o.Meta, readable: readable}, nil
}

func (o *Opener) Create(_ context.Context, path string, meta video.Meta) (video.Writer, error) {
	if o.CreateErr != nil {
		if err := o.CreateErr(path); err != nil {
			return nil, err
		}
	}
	w := Writer{Path: path, Meta: meta}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.writers == nil {
		o.writers = make(map[string]*Writer)
	}
	o.writers[path] = &w
	return &w, nil
}

// Writer 返回指定路径的编码器
func (o *Opener) Writer(path string) (*Writer, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.writers[path]
	return w, ok
}

// Balanced 打开的解码器是否全部关闭
func (o *Opener) Balanced() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opened == o.closed
}

type source struct {
	owner    *Opener
	meta     video.Meta
	readable int
	next     int
	closed   bool
}

func (s *source) Meta() video.Meta { return s.meta }

func (s *source) Seek(frame int) error {
	if s.closed {
		return fmt.Errorf("source closed")
	}
	s.next = max(frame, 0)
	return nil
}

func (s *source) Read() (*video.Frame, error) {
	if s.closed {
		return nil, fmt.Errorf("source closed")
	}
	if s.next >= s.readable {
		return nil, io.EOF
	}
	f := video.Frame{Index: s.next, Data: []byte(strconv.Itoa(s.next))}
	s.next++
	return &f, nil
}

func (s *source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.owner.mu.Lock()
	s.owner.closed++
	s.owner.mu.Unlock()
	return nil
}

// Writer 记录写入的帧号，关闭时将帧号逐行写入 Path
type Writer struct {
	Path   string
	Meta   video.Meta
	Frames []int
	Closed bool
}

func (w *Writer) Write(f *video.Frame) error {
	if w.Closed {
		return fmt.Errorf("writer closed")
	}
	w.Frames = append(w.Frames, f.Index)
	return nil
}

func (w *Writer) Close() error {
	if w.Closed {
		return nil
	}
	w.Closed = true
	var b []byte
	for _, i := range w.Frames {
		b = strconv.AppendInt(b, int64(i), 10)
		b = append(b, '\n')
	}
	return os.WriteFile(w.Path, b, 0o644)
}
