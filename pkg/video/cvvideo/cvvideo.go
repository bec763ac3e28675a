//go:build gocv

package cvvideo

import (
	"context"
	"fmt"
	"io"

	"github.com/gowvp/nora/pkg/video"
	"gocv.io/x/gocv"
)

func init() {
	video.Register("opencv", func() video.Opener { return Engine{FourCC: "mp4v"} })
}

var _ video.Opener = Engine{}

// Engine OpenCV 视频后端
type Engine struct {
	FourCC string
}

func (e Engine) Open(_ context.Context, path string) (video.Source, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, fmt.Errorf("open %s: capture not opened", path)
	}

	total := int(capture.Get(gocv.VideoCaptureFrameCount))
	reported := capture.Get(gocv.VideoCaptureFPS)
	var duration float64
	if reported <= 0 {
		// 跳到结尾读取时长后复位
		capture.Set(gocv.VideoCapturePosAVIRatio, 1)
		duration = capture.Get(gocv.VideoCapturePosMsec) / 1000
		capture.Set(gocv.VideoCapturePosFrames, 0)
	}
	fps := video.ResolveFPS(reported, total, duration)
	if duration <= 0 && fps > 0 {
		duration = float64(total) / fps
	}

	return &source{
		capture: capture,
		meta: video.Meta{
			Width:       int(capture.Get(gocv.VideoCaptureFrameWidth)),
			Height:      int(capture.Get(gocv.VideoCaptureFrameHeight)),
			FPS:         fps,
			TotalFrames: total,
			Duration:    duration,
		},
	}, nil
}

func (e Engine) Create(_ context.Context, path string, meta video.Meta) (video.Writer, error) {
	w, err := gocv.VideoWriterFile(path, e.FourCC, meta.FPS, meta.Width, meta.Height, true)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return &writer{w: w, meta: meta}, nil
}

type source struct {
	capture *gocv.VideoCapture
	meta    video.Meta
	next    int
}

func (s *source) Meta() video.Meta { return s.meta }

func (s *source) Seek(frame int) error {
	if frame < 0 {
		frame = 0
	}
	s.capture.Set(gocv.VideoCapturePosFrames, float64(frame))
	s.next = frame
	return nil
}

func (s *source) Read() (*video.Frame, error) {
	mat := gocv.NewMat()
	defer mat.Close()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		return nil, io.EOF
	}
	f := video.Frame{Index: s.next, Data: mat.ToBytes()}
	s.next++
	return &f, nil
}

func (s *source) Close() error {
	return s.capture.Close()
}

type writer struct {
	w    *gocv.VideoWriter
	meta video.Meta
}

func (w *writer) Write(f *video.Frame) error {
	mat, err := gocv.NewMatFromBytes(w.meta.Height, w.meta.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return err
	}
	defer mat.Close()
	return w.w.Write(mat)
}

func (w *writer) Close() error {
	return w.w.Close()
}
