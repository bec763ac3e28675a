package localstorage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestSave(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "/static/experiments/")

	path, err := s.Save(context.Background(), "12/trial.mp4", strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "12", "trial.mp4") {
		t.Fatalf("unexpected path %s", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "hello" {
		t.Fatalf("unexpected content %q", b)
	}
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Fatal("temporary file left behind")
	}

	if got := s.URL(path); got != "/static/experiments/12/trial.mp4" {
		t.Fatalf("unexpected url %s", got)
	}
	if got := s.URL("/elsewhere/a.mp4"); got != "/elsewhere/a.mp4" {
		t.Fatalf("path outside storage should be kept, got %s", got)
	}
}

func TestSaveStaysInsideDir(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "/static")

	path, err := s.Save(context.Background(), "../../escape.txt", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(path, dir) {
		t.Fatalf("file escaped storage dir: %s", path)
	}
	if _, err := s.Save(context.Background(), "", strings.NewReader("x")); err == nil {
		t.Fatal("empty name accepted")
	}
}

func TestProgressReader(t *testing.T) {
	var calls atomic.Int32
	var last atomic.Int64
	p := NewProgressReader(5, strings.NewReader("hello"), time.Hour, func(current, total int64) {
		calls.Add(1)
		last.Store(current)
	})
	buf := make([]byte, 16)
	for {
		if _, err := p.Read(buf); err != nil {
			break
		}
	}
	p.Close()

	if p.Current.Load() != 5 {
		t.Fatalf("expect 5 bytes, got %d", p.Current.Load())
	}
	if calls.Load() != 1 || last.Load() != 5 {
		t.Fatalf("expect final progress callback, calls=%d last=%d", calls.Load(), last.Load())
	}
}
