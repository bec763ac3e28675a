// Package pipeline 串联检测加载、ROI、接近判定、片段切分、汇总与片段导出
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gowvp/nora/internal/core/clip"
	"github.com/gowvp/nora/internal/core/episode"
	"github.com/gowvp/nora/internal/core/metrics"
	"github.com/gowvp/nora/internal/core/proximity"
	"github.com/gowvp/nora/internal/core/roi"
	"github.com/gowvp/nora/internal/core/track"
	"github.com/gowvp/nora/pkg/video"
)

const (
	ProvidedROIsFile   = "provided_rois.json"
	DetectionsFile     = "predictions.csv"
	EpisodesFile       = "interactions_episodes.csv"
	AggregatedFile     = "interactions_aggregated.csv"
	ClipsDir           = "clips"
	detectedROIPattern = "rois_frame_%d.json"
)

var (
	ErrNoROIs     = errors.New("no roi description provided and autosegmentation disabled")
	ErrNoDetector = errors.New("detector not configured")
)

// Detector 外部检测服务，结果写入 outputPath
type Detector interface {
	// DetectROIs 在指定帧识别物体区域，输出 ROI 描述 JSON
	DetectROIs(ctx context.Context, videoPath, outputPath string, frame int) error
	// DetectKeypoints 逐帧检测姿态与行为类别，输出检测 CSV
	DetectKeypoints(ctx context.Context, videoPath, outputPath string) error
}

// Config 分析参数
type Config struct {
	WorkDir            string
	Keypoints          []string
	TrackedKeypoint    string
	ProximityThreshold float64
	Segment            episode.Params
	ExplorationClasses []int
	ClipMargin         int
	ROIFrameIndex      int
	FPS                float64 // 大于 0 时覆盖视频帧率
}

// DefaultConfig 默认参数
func DefaultConfig(workDir string) Config {
	return Config{
		WorkDir:            workDir,
		Keypoints:          []string{"head", "nose", "ear_left", "ear_right", "neck", "tail_base"},
		TrackedKeypoint:    "nose",
		ProximityThreshold: 40,
		Segment: episode.Params{
			MinInteractionFrames: 4,
			MaxGapFrames:         20,
			MaxClassChangeFrames: 6,
		},
		ExplorationClasses: metrics.DefaultExplorationClasses,
		ClipMargin:         clip.DefaultMargin,
		ROIFrameIndex:      20,
	}
}

// Input 单次分析的输入
type Input struct {
	VideoPath            string         `json:"video_path"`
	ROIs                 []roi.Provided `json:"rois,omitempty"`           // 非空时优先使用
	ROIPath              string         `json:"roi_path,omitempty"`       // 已有的 ROI 描述文件
	DetectionPath        string         `json:"detection_path,omitempty"` // 已有的检测 CSV
	ExportClips          bool           `json:"export_clips"`
	AutosegmentIfMissing bool           `json:"autosegment_if_missing"`
}

// Result 分析结果
type Result struct {
	Episodes            []episode.Episode `json:"episodes"`
	AggregatedMetrics   []metrics.Metric  `json:"aggregated_metrics"`
	GeneratedClips      []clip.File       `json:"generated_clips"`
	ROISourcePath       string            `json:"roi_source_path"`
	DetectionSourcePath string            `json:"detection_source_path"`
	ROIs                []roi.ROI         `json:"rois"`
	Video               video.Meta        `json:"video"`
	FPS                 float64           `json:"fps"`
	EpisodesPath        string            `json:"episodes_path"`
	AggregatedPath      string            `json:"aggregated_path"`
}

// Pipeline 分析流程，不持有跨次调用的状态
type Pipeline struct {
	cfg      Config
	opener   video.Opener
	detector Detector
	clipOpts []clip.Option
	log      *slog.Logger
}

type Option func(*Pipeline)

// WithDetector 启用自动识别 ROI 与缺失检测表时的关键点检测
func WithDetector(d Detector) Option {
	return func(p *Pipeline) {
		p.detector = d
	}
}

// WithClipOptions 附加片段导出参数
func WithClipOptions(opts ...clip.Option) Option {
	return func(p *Pipeline) {
		p.clipOpts = append(p.clipOpts, opts...)
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Pipeline) {
		p.log = log
	}
}

func New(cfg Config, opener video.Opener, opts ...Option) *Pipeline {
	p := Pipeline{cfg: cfg, opener: opener, log: slog.Default()}
	for _, opt := range opts {
		opt(&p)
	}
	return &p
}

// Run 执行一次完整分析
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	if err := p.cfg.Segment.Validate(); err != nil {
		return nil, err
	}
	if in.VideoPath == "" {
		return nil, errors.New("video path is required")
	}
	if err := os.MkdirAll(p.cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	log := p.log.With("video", in.VideoPath)
	begin := time.Now()

	meta, err := p.probe(ctx, in.VideoPath)
	if err != nil {
		return nil, err
	}
	fps := meta.FPS
	if p.cfg.FPS > 0 {
		fps = p.cfg.FPS
	}
	log.InfoContext(ctx, "video opened", "width", meta.Width, "height", meta.Height, "fps", fps, "frames", meta.TotalFrames)

	reg, roiPath, err := p.resolveROIs(ctx, in, meta)
	if err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "roi ready", "count", reg.Len(), "source", roiPath)

	detPath, err := p.resolveDetections(ctx, in)
	if err != nil {
		return nil, err
	}
	t, err := track.LoadFile(ctx, detPath, p.cfg.Keypoints)
	if err != nil {
		return nil, err
	}
	log.InfoContext(ctx, "detections loaded", "frames", t.Len(), "source", detPath)

	series := proximity.Classify(t, reg.All(), proximity.Config{
		Keypoint:  p.cfg.TrackedKeypoint,
		Threshold: p.cfg.ProximityThreshold,
	})
	episodes, err := episode.SegmentAll(t, series, p.cfg.Segment, fps)
	if err != nil {
		return nil, err
	}
	aggregated, err := metrics.Aggregate(episodes, fps, p.cfg.ExplorationClasses)
	if err != nil {
		return nil, err
	}

	out := Result{
		Episodes:            episodes,
		AggregatedMetrics:   aggregated,
		GeneratedClips:      []clip.File{},
		ROISourcePath:       roiPath,
		DetectionSourcePath: detPath,
		ROIs:                reg.All(),
		Video:               meta,
		FPS:                 fps,
		EpisodesPath:        filepath.Join(p.cfg.WorkDir, EpisodesFile),
		AggregatedPath:      filepath.Join(p.cfg.WorkDir, AggregatedFile),
	}
	if err := episode.WriteFile(out.EpisodesPath, episodes); err != nil {
		return nil, fmt.Errorf("write episodes: %w", err)
	}
	if err := metrics.WriteFile(out.AggregatedPath, aggregated); err != nil {
		return nil, fmt.Errorf("write aggregated metrics: %w", err)
	}

	if in.ExportClips && len(episodes) > 0 {
		opts := append([]clip.Option{clip.WithMargin(p.cfg.ClipMargin), clip.WithLogger(log)}, p.clipOpts...)
		ex := clip.NewExtractor(p.opener, filepath.Join(p.cfg.WorkDir, ClipsDir), opts...)
		files, err := ex.ExtractAll(ctx, in.VideoPath, episodes)
		if err != nil {
			return nil, fmt.Errorf("export clips: %w", err)
		}
		out.GeneratedClips = files
	}

	log.InfoContext(ctx, "analysis finished",
		"episodes", len(episodes),
		"metrics", len(aggregated),
		"clips", len(out.GeneratedClips),
		"cost", time.Since(begin).String(),
	)
	return &out, nil
}

// probe 读取视频信息，视频不可读时直接失败
func (p *Pipeline) probe(ctx context.Context, path string) (video.Meta, error) {
	src, err := p.opener.Open(ctx, path)
	if err != nil {
		return video.Meta{}, fmt.Errorf("open video %s: %w", path, err)
	}
	meta := src.Meta()
	if err := src.Close(); err != nil {
		p.log.WarnContext(ctx, "close video", "err", err)
	}
	if fps := video.ResolveFPS(meta.FPS, meta.TotalFrames, meta.Duration); fps != meta.FPS {
		p.log.WarnContext(ctx, "video reports no usable fps, using fallback", "reported", meta.FPS, "fps", fps)
		meta.FPS = fps
	}
	return meta, nil
}

// resolveROIs 优先级: 调用方给出的区域 > 已有描述文件 > 自动识别
func (p *Pipeline) resolveROIs(ctx context.Context, in Input, meta video.Meta) (*roi.Registry, string, error) {
	if len(in.ROIs) > 0 {
		items := make([]roi.Provided, len(in.ROIs))
		for i, v := range in.ROIs {
			if v.FrameWidth <= 0 || v.FrameHeight <= 0 {
				v.FrameWidth, v.FrameHeight = meta.Width, meta.Height
			}
			items[i] = v
		}
		reg, err := roi.FromProvided(items)
		if err != nil {
			return nil, "", err
		}
		path := filepath.Join(p.cfg.WorkDir, ProvidedROIsFile)
		if err := reg.WriteFile(path); err != nil {
			return nil, "", fmt.Errorf("save provided rois: %w", err)
		}
		return reg, path, nil
	}

	if in.ROIPath != "" {
		reg, err := roi.LoadFile(in.ROIPath)
		return reg, in.ROIPath, err
	}

	if !in.AutosegmentIfMissing {
		return nil, "", ErrNoROIs
	}
	if p.detector == nil {
		return nil, "", fmt.Errorf("autosegment rois: %w", ErrNoDetector)
	}
	path := filepath.Join(p.cfg.WorkDir, fmt.Sprintf(detectedROIPattern, p.cfg.ROIFrameIndex))
	if err := p.detector.DetectROIs(ctx, in.VideoPath, path, p.cfg.ROIFrameIndex); err != nil {
		return nil, "", fmt.Errorf("autosegment rois: %w", err)
	}
	reg, err := roi.LoadFile(path)
	return reg, path, err
}

func (p *Pipeline) resolveDetections(ctx context.Context, in Input) (string, error) {
	if in.DetectionPath != "" {
		return in.DetectionPath, nil
	}
	if p.detector == nil {
		return "", fmt.Errorf("detect keypoints: %w", ErrNoDetector)
	}
	path := filepath.Join(p.cfg.WorkDir, DetectionsFile)
	if err := p.detector.DetectKeypoints(ctx, in.VideoPath, path); err != nil {
		return "", fmt.Errorf("detect keypoints: %w", err)
	}
	return path, nil
}
