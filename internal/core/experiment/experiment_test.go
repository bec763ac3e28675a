package experiment_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gowvp/nora/internal/conf"
	"github.com/gowvp/nora/internal/core/clip"
	"github.com/gowvp/nora/internal/core/episode"
	"github.com/gowvp/nora/internal/core/experiment"
	"github.com/gowvp/nora/internal/core/experiment/store/experimentdb"
	"github.com/gowvp/nora/internal/core/metrics"
	"github.com/gowvp/nora/internal/core/pipeline"
	"github.com/gowvp/nora/internal/core/roi"
	"github.com/gowvp/nora/pkg/video"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type dirStorage struct {
	dir string
}

func (s dirStorage) Save(_ context.Context, name string, r io.Reader) (string, error) {
	path := filepath.Join(s.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return path, err
}

func (s dirStorage) URL(path string) string {
	return "/static/experiments/" + strings.TrimPrefix(path, s.dir+"/")
}

type recorder struct {
	mu     sync.Mutex
	events []experiment.StatusEvent
}

func (r *recorder) Notify(_ context.Context, e experiment.StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) statuses() []experiment.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]experiment.Status, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

func newCore(t *testing.T) (experiment.Core, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	store := experimentdb.NewDB(db).AutoMigrate(true)
	storage := filepath.Join(dir, "experiments")
	core := experiment.NewCore(store,
		experiment.WithConfig(&conf.ServerStorage{Dir: storage}),
		experiment.WithFileStorage(dirStorage{dir: storage}),
	)
	return core, storage
}

func addExperiment(t *testing.T, core experiment.Core) *experiment.Experiment {
	t.Helper()
	exp, err := core.AddExperiment(context.Background(), &experiment.AddExperimentInput{
		Name:        "nor-day2",
		MouseName:   "m01",
		Date:        "2026-10-01",
		ExportClips: true,
	}, "trial.mp4", strings.NewReader("video"))
	if err != nil {
		t.Fatal(err)
	}
	return exp
}

func fakeResult(workDir string) *pipeline.Result {
	eps := []episode.Episode{
		{StartFrame: 10, EndFrame: 39, Duration: 30, ClassID: 0, ObjectROI: "object_1", DurationSeconds: 1},
		{StartFrame: 60, EndFrame: 74, Duration: 15, ClassID: 0, ObjectROI: "object_2", DurationSeconds: 0.5},
	}
	agg, _ := metrics.Aggregate(eps, 30, nil)
	return &pipeline.Result{
		Episodes:          eps,
		AggregatedMetrics: agg,
		GeneratedClips: []clip.File{
			{Index: 0, Path: filepath.Join(workDir, "clips", "clip_0_class_0_roi_object_1.mp4"), Episode: eps[0], Range: clip.Range{Start: 0, End: 49}, Expected: 50, Written: 50},
		},
		ROIs: []roi.ROI{
			{Name: "object_1", Box: roi.Box{X1: 10, Y1: 10, X2: 50, Y2: 50}},
			{Name: "object_2", Box: roi.Box{X1: 100, Y1: 10, X2: 150, Y2: 50}},
		},
		ROISourcePath:       filepath.Join(workDir, "rois.json"),
		DetectionSourcePath: filepath.Join(workDir, "predictions.csv"),
		Video:               video.Meta{TotalFrames: 300, FPS: 30},
		FPS:                 30,
	}
}

func TestAddExperiment(t *testing.T) {
	core, storage := newCore(t)
	exp := addExperiment(t, core)

	if exp.Status != experiment.StatusUploaded {
		t.Fatalf("expect UPL, got %s", exp.Status)
	}
	if !strings.HasPrefix(exp.VideoPath, storage) {
		t.Fatalf("video saved outside storage: %s", exp.VideoPath)
	}
	if _, err := os.Stat(exp.VideoPath); err != nil {
		t.Fatal(err)
	}

	items, total, err := core.FindExperiments(context.Background(), &experiment.FindExperimentInput{
		PagerFilter: web.PagerFilter{Page: 1, Size: 10},
		Key:         "nor",
	})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != exp.ID {
		t.Fatalf("find returned total=%d items=%d", total, len(items))
	}

	if _, err := core.AddExperiment(context.Background(), &experiment.AddExperimentInput{}, "a.mp4", strings.NewReader("")); err == nil {
		t.Fatal("missing name accepted")
	}
}

func TestRunnerRetriesThenCompletes(t *testing.T) {
	core, _ := newCore(t)
	exp := addExperiment(t, core)

	var calls int
	analyze := func(_ context.Context, workDir string, in pipeline.Input) (*pipeline.Result, error) {
		calls++
		if in.VideoPath != exp.VideoPath || !in.ExportClips {
			t.Errorf("unexpected input %+v", in)
		}
		if calls < 3 {
			return nil, errors.New("detector unavailable")
		}
		return fakeResult(workDir), nil
	}
	rec := &recorder{}
	runner := experiment.NewRunner(core, analyze,
		experiment.WithRetry(3, 0),
		experiment.WithNotifier(rec),
	)

	if err := runner.Process(context.Background(), exp.ID, "job-1"); err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("expect 3 attempts, got %d", calls)
	}

	detail, err := core.GetDetail(context.Background(), exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if detail.Status != experiment.StatusCompleted || detail.Attempts != 3 || detail.FPS != 30 {
		t.Fatalf("unexpected experiment %+v", detail.Experiment)
	}
	if len(detail.Objects) != 2 {
		t.Fatalf("expect 2 objects, got %d", len(detail.Objects))
	}
	if o := detail.Objects[0]; o.Name != "object_1" || o.Label != experiment.LabelNovel || o.Seconds != 1 {
		t.Fatalf("unexpected object %+v", o)
	}
	if o := detail.Objects[1]; o.Reference != 2 || o.Label != experiment.LabelFamiliar || o.Seconds != 0.5 {
		t.Fatalf("unexpected object %+v", o)
	}
	if detail.DiscriminationIndex < 0.333 || detail.DiscriminationIndex > 0.334 {
		t.Fatalf("unexpected discrimination index %v", detail.DiscriminationIndex)
	}
	if len(detail.Metrics) != 2 || len(detail.Clips) != 1 {
		t.Fatalf("metrics=%d clips=%d", len(detail.Metrics), len(detail.Clips))
	}
	c := detail.Clips[0]
	if c.StartTime != 0 || c.EndTime != 1.667 || !c.Valid || c.Partial || c.ObjectID != detail.Objects[0].ID {
		t.Fatalf("unexpected clip %+v", c)
	}

	episodes, err := core.FindEpisodes(context.Background(), exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(episodes) != 2 || episodes[0].StartFrame != 10 {
		t.Fatalf("unexpected episodes %+v", episodes)
	}

	want := []experiment.Status{
		experiment.StatusProcessing, experiment.StatusProcessing, experiment.StatusProcessing, experiment.StatusCompleted,
	}
	got := rec.statuses()
	if len(got) != len(want) {
		t.Fatalf("expect events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expect events %v, got %v", want, got)
		}
	}
}

func TestRunnerGivesUp(t *testing.T) {
	core, _ := newCore(t)
	exp := addExperiment(t, core)

	var calls int
	analyze := func(context.Context, string, pipeline.Input) (*pipeline.Result, error) {
		calls++
		return nil, errors.New("video unreadable")
	}
	rec := &recorder{}
	runner := experiment.NewRunner(core, analyze, experiment.WithRetry(2, 0), experiment.WithNotifier(rec))
	if err := runner.Process(context.Background(), exp.ID, "job-2"); err == nil {
		t.Fatal("expect error")
	}
	if calls != 3 {
		t.Fatalf("expect 3 attempts, got %d", calls)
	}
	out, err := core.GetExperiment(context.Background(), exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != experiment.StatusFailed || out.Attempts != 3 || out.LastError != "video unreadable" {
		t.Fatalf("unexpected experiment %+v", out)
	}
	got := rec.statuses()
	if got[len(got)-1] != experiment.StatusFailed {
		t.Fatalf("last event should be ERR, got %v", got)
	}
}

func TestRerunReplacesResults(t *testing.T) {
	core, _ := newCore(t)
	exp := addExperiment(t, core)

	analyze := func(_ context.Context, workDir string, _ pipeline.Input) (*pipeline.Result, error) {
		return fakeResult(workDir), nil
	}
	runner := experiment.NewRunner(core, analyze, experiment.WithRetry(0, 0))
	for range 2 {
		if err := runner.Process(context.Background(), exp.ID, "job"); err != nil {
			t.Fatal(err)
		}
	}
	objects, err := core.FindObjects(context.Background(), exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 2 {
		t.Fatalf("expect results replaced, got %d objects", len(objects))
	}
}

func TestEnqueue(t *testing.T) {
	core, _ := newCore(t)
	exp := addExperiment(t, core)
	runner := experiment.NewRunner(core, nil, experiment.WithQueueSize(1))

	id1, err := runner.Enqueue(context.Background(), exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := runner.Enqueue(context.Background(), exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if id1 == "" || id1 != id2 {
		t.Fatalf("same experiment should keep its job id, got %q and %q", id1, id2)
	}

	other := addExperiment(t, core)
	if _, err := runner.Enqueue(context.Background(), other.ID); err == nil {
		t.Fatal("expect queue full")
	}
	if n := runner.Pending(); n != 1 {
		t.Fatalf("expect 1 pending job, got %d", n)
	}
	// 入队失败不保留任务 ID
	if id, err := runner.Enqueue(context.Background(), other.ID); err == nil || id != "" {
		t.Fatalf("expect queue full again, got %q %v", id, err)
	}
	if _, err := runner.Enqueue(context.Background(), 9999); err == nil {
		t.Fatal("expect not found")
	}
}

func TestEditObjectsAndClips(t *testing.T) {
	core, _ := newCore(t)
	exp := addExperiment(t, core)
	res := fakeResult(exp.WorkDir)
	if err := os.MkdirAll(filepath.Dir(res.GeneratedClips[0].Path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(res.GeneratedClips[0].Path, []byte("clip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := core.SaveResult(context.Background(), exp.ID, res); err != nil {
		t.Fatal(err)
	}
	objects, err := core.FindObjects(context.Background(), exp.ID)
	if err != nil {
		t.Fatal(err)
	}

	_, err = core.EditObjects(context.Background(), exp.ID, &experiment.EditObjectsInput{
		Objects: []experiment.EditObjectInput{{ID: objects[1].ID, Label: experiment.LabelNovel}},
	})
	if err == nil {
		t.Fatal("reference 2 labeled NOV should fail")
	}

	out, err := core.EditObjects(context.Background(), exp.ID, &experiment.EditObjectsInput{
		Objects: []experiment.EditObjectInput{
			{ID: objects[0].ID, Reference: 1, Label: experiment.LabelFamiliar},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].Label != experiment.LabelFamiliar {
		t.Fatalf("label not updated: %+v", out[0])
	}

	clips, err := core.FindClips(context.Background(), exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	deleted, err := core.DelClips(context.Background(), exp.ID, &experiment.DelClipsInput{IDs: []int64{clips[0].ID, 12345}})
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 1 {
		t.Fatalf("expect 1 deleted, got %d", len(deleted))
	}
	if _, err := os.Stat(res.GeneratedClips[0].Path); !os.IsNotExist(err) {
		t.Fatal("clip file should be removed")
	}
	if _, err := core.GetClip(context.Background(), clips[0].ID); err == nil {
		t.Fatal("clip row should be removed")
	}
}

func TestDelExperiment(t *testing.T) {
	core, _ := newCore(t)
	exp := addExperiment(t, core)
	if err := core.SaveResult(context.Background(), exp.ID, fakeResult(exp.WorkDir)); err != nil {
		t.Fatal(err)
	}
	if _, err := core.DelExperiment(context.Background(), exp.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(exp.WorkDir); !os.IsNotExist(err) {
		t.Fatal("work dir should be removed")
	}
	if _, err := core.GetExperiment(context.Background(), exp.ID); err == nil {
		t.Fatal("experiment should be removed")
	}
	objects, err := core.FindObjects(context.Background(), exp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 0 {
		t.Fatalf("objects should be removed, got %d", len(objects))
	}
}
