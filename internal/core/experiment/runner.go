package experiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/gowvp/nora/internal/core/pipeline"
	"github.com/ixugo/goddd/pkg/conc"
	"github.com/ixugo/goddd/pkg/reason"
)

var ErrQueueFull = errors.New("job queue is full")

// AnalyzeFunc 在 workDir 中执行一次完整分析
type AnalyzeFunc func(ctx context.Context, workDir string, in pipeline.Input) (*pipeline.Result, error)

// StatusEvent 实验状态变化
type StatusEvent struct {
	JobID        string    `json:"job_id"`
	ExperimentID int64     `json:"experiment_id"`
	Status       Status    `json:"status"`
	Attempt      int       `json:"attempt"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Notifier 推送状态变化
type Notifier interface {
	Notify(ctx context.Context, event StatusEvent) error
}

type job struct {
	id           string
	experimentID int64
}

// Runner 单协程顺序执行分析任务
type Runner struct {
	core       Core
	analyze    AnalyzeFunc
	notifier   Notifier
	maxRetries int
	backoff    time.Duration
	queue      chan job
	running    conc.Map[int64, string]
	log        *slog.Logger
}

type RunnerOption func(*Runner)

// WithNotifier 状态推送
func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) {
		r.notifier = n
	}
}

// WithRetry 失败后最多重试 maxRetries 次，第 n 次重试前等待 backoff*2^(n-1)
func WithRetry(maxRetries int, backoff time.Duration) RunnerOption {
	return func(r *Runner) {
		r.maxRetries = max(maxRetries, 0)
		r.backoff = max(backoff, 0)
	}
}

// WithQueueSize 排队任务上限
func WithQueueSize(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.queue = make(chan job, n)
		}
	}
}

func WithRunnerLogger(log *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.log = log
	}
}

func NewRunner(core Core, analyze AnalyzeFunc, opts ...RunnerOption) *Runner {
	r := Runner{
		core:       core,
		analyze:    analyze,
		maxRetries: 3,
		backoff:    time.Minute,
		queue:      make(chan job, 64),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&r)
	}
	return &r
}

// Start 阻塞执行队列中的任务，直到 ctx 结束
func (r *Runner) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-r.queue:
			if err := r.Process(ctx, j.experimentID, j.id); err != nil {
				r.log.ErrorContext(ctx, "experiment failed", "job_id", j.id, "experiment_id", j.experimentID, "err", err)
			}
			r.running.Delete(j.experimentID)
		}
	}
}

// Enqueue 提交分析任务，实验已在队列中时返回已有的任务 ID
func (r *Runner) Enqueue(ctx context.Context, experimentID int64) (string, error) {
	exp, err := r.core.GetExperiment(ctx, experimentID)
	if err != nil {
		return "", err
	}
	if jobID, ok := r.running.Load(exp.ID); ok {
		return jobID, nil
	}
	if exp.VideoPath == "" {
		return "", reason.ErrBadRequest.Withf("experiment[%d] has no video", exp.ID)
	}

	j := job{id: uuid.NewString(), experimentID: exp.ID}
	r.running.Store(exp.ID, j.id)
	select {
	case r.queue <- j:
	default:
		r.running.Delete(exp.ID)
		return "", reason.ErrServer.Withf("%s", ErrQueueFull)
	}
	r.log.InfoContext(ctx, "experiment enqueued", "job_id", j.id, "experiment_id", exp.ID)
	return j.id, nil
}

// Pending 队列中等待执行的任务数
func (r *Runner) Pending() int {
	return len(r.queue)
}

// Process 执行一个实验，失败时按退避重试，最后一次失败记录为 ERR
// 每次尝试都从头开始，不复用上一次的中间结果
func (r *Runner) Process(ctx context.Context, experimentID int64, jobID string) error {
	exp, err := r.core.GetExperiment(ctx, experimentID)
	if err != nil {
		return err
	}
	in, err := input(exp)
	if err != nil {
		_ = r.core.setStatus(ctx, exp.ID, StatusFailed, exp.Attempts, err.Error())
		r.notify(ctx, StatusEvent{JobID: jobID, ExperimentID: exp.ID, Status: StatusFailed, Error: err.Error()})
		return err
	}

	log := r.log.With("job_id", jobID, "experiment_id", exp.ID)
	attempts := r.maxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := r.core.setStatus(ctx, exp.ID, StatusProcessing, attempt, ""); err != nil {
			return err
		}
		r.notify(ctx, StatusEvent{JobID: jobID, ExperimentID: exp.ID, Status: StatusProcessing, Attempt: attempt})

		lastErr = r.attempt(ctx, exp, in)
		if lastErr == nil {
			log.InfoContext(ctx, "experiment completed", "attempt", attempt)
			r.notify(ctx, StatusEvent{JobID: jobID, ExperimentID: exp.ID, Status: StatusCompleted, Attempt: attempt})
			return nil
		}
		log.WarnContext(ctx, "experiment attempt failed", "attempt", attempt, "max", attempts, "err", lastErr)

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, r.backoff<<(attempt-1)); err != nil {
			lastErr = err
			break
		}
	}

	// 取消时使用新的 context 记录失败状态
	saveCtx := context.WithoutCancel(ctx)
	if err := r.core.setStatus(saveCtx, exp.ID, StatusFailed, attempts, lastErr.Error()); err != nil {
		log.ErrorContext(ctx, "save failed status", "err", err)
	}
	r.notify(saveCtx, StatusEvent{JobID: jobID, ExperimentID: exp.ID, Status: StatusFailed, Attempt: attempts, Error: lastErr.Error()})
	return lastErr
}

func (r *Runner) attempt(ctx context.Context, exp *Experiment, in pipeline.Input) error {
	clearOutputs(exp.WorkDir)
	res, err := r.analyze(ctx, exp.WorkDir, in)
	if err != nil {
		return err
	}
	return r.core.SaveResult(ctx, exp.ID, res)
}

func (r *Runner) notify(ctx context.Context, e StatusEvent) {
	if r.notifier == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	if err := r.notifier.Notify(ctx, e); err != nil {
		r.log.WarnContext(ctx, "notify status", "experiment_id", e.ExperimentID, "status", e.Status, "err", err)
	}
}

// input 实验记录转换为分析输入
func input(exp *Experiment) (pipeline.Input, error) {
	in := pipeline.Input{
		VideoPath:            exp.VideoPath,
		ROIPath:              exp.ROIPath,
		DetectionPath:        exp.DetectionPath,
		ExportClips:          exp.ExportClips,
		AutosegmentIfMissing: exp.Autosegment,
	}
	if exp.ROIs != "" {
		if err := json.Unmarshal([]byte(exp.ROIs), &in.ROIs); err != nil {
			return in, fmt.Errorf("decode rois: %w", err)
		}
	}
	return in, nil
}

// clearOutputs 删除上一次分析生成的文件，保留上传的视频与检测表
func clearOutputs(workDir string) {
	if workDir == "" {
		return
	}
	_ = os.RemoveAll(filepath.Join(workDir, pipeline.ClipsDir))
	for _, name := range []string{pipeline.EpisodesFile, pipeline.AggregatedFile} {
		_ = os.Remove(filepath.Join(workDir, name))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
