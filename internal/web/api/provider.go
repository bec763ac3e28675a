package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/gowvp/nora/internal/adapter/localstorage"
	"github.com/gowvp/nora/internal/conf"
	"github.com/gowvp/nora/internal/core/clip"
	"github.com/gowvp/nora/internal/core/experiment"
	"github.com/gowvp/nora/internal/core/experiment/store/experimentdb"
	"github.com/gowvp/nora/internal/core/pipeline"
	"github.com/gowvp/nora/internal/data"
	"github.com/gowvp/nora/internal/emitter"
	"github.com/gowvp/nora/internal/rpc"
	"github.com/gowvp/nora/pkg/video"
	"github.com/gowvp/nora/pkg/video/ffvideo"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/web"
	"gorm.io/gorm"
)

var ProviderSet = wire.NewSet(
	wire.Struct(new(Usecase), "*"),
	NewHTTPHandler,
	NewExperimentStore, NewFileStorage, NewExperimentCore,
	NewNotifier, NewDetector, NewVideoOpener, NewAnalyzer, NewRunner,
	NewExperimentAPI,
)

type Usecase struct {
	Conf          *conf.Bootstrap
	Runner        *experiment.Runner
	ExperimentAPI ExperimentAPI
}

// NewHTTPHandler 生成Gin框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	cfg := uc.Conf.Server
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.NoRoute(func(c *gin.Context) {
		c.JSON(404, "来到了无人的荒漠")
	})
	if cfg.HTTP.PProf.Enabled {
		web.SetupPProf(g, &cfg.HTTP.PProf.AccessIps)
	}

	setupRouter(g, uc)
	return g
}

// NewExperimentStore 创建实验存储层，并写入默认行为目录
func NewExperimentStore(db *gorm.DB) (experiment.Storer, error) {
	store := experimentdb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
	if err := data.SeedBehaviors(db); err != nil {
		return nil, err
	}
	return store, nil
}

// NewFileStorage 上传文件存放在 server.storage.dir
func NewFileStorage(bc *conf.Bootstrap) experiment.FileStorage {
	dir := experiment.NewCore(nil, experiment.WithConfig(&bc.Server.Storage)).StorageDir()
	return localstorage.New(dir, staticExperiments)
}

// NewExperimentCore 创建实验核心服务并启动清理协程
func NewExperimentCore(store experiment.Storer, storage experiment.FileStorage, bc *conf.Bootstrap) (experiment.Core, func()) {
	core := experiment.NewCore(store,
		experiment.WithConfig(&bc.Server.Storage),
		experiment.WithFileStorage(storage),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go core.StartCleanupWorker(ctx)
	return core, cancel
}

// NewNotifier 配置 broker 时通过 MQTT 推送任务状态
func NewNotifier(bc *conf.Bootstrap) (experiment.Notifier, func()) {
	if bc.MQTT.Broker == "" {
		return emitter.Nop{}, func() {}
	}
	e := emitter.NewMQTTEmitter(bc.MQTT)
	if err := e.Connect(context.Background()); err != nil {
		// 客户端会在后台继续重连
		slog.Warn("mqtt connect", "broker", bc.MQTT.Broker, "err", err)
	}
	return e, e.Disconnect
}

// NewDetector 未配置检测服务地址时返回 nil，此时只能分析已有的检测表
func NewDetector(bc *conf.Bootstrap) (pipeline.Detector, func(), error) {
	cfg := bc.Detector
	if cfg.Addr == "" {
		return nil, func() {}, nil
	}
	client, err := rpc.NewDetectorClient(cfg.Addr, cfg.ROIModel, cfg.PoseModel, cfg.Timeout.Duration())
	if err != nil {
		return nil, nil, err
	}
	return client, func() {
		if err := client.Close(); err != nil {
			slog.Warn("close detector", "err", err)
		}
	}, nil
}

// NewVideoOpener 按 video.backend 选择视频后端
func NewVideoOpener(bc *conf.Bootstrap) (video.Opener, error) {
	cfg := bc.Video
	if cfg.Backend == "" || cfg.Backend == ffvideo.Name {
		return ffvideo.NewEngine(cfg.FFmpeg, cfg.FFprobe, cfg.Codec, cfg.HWAccel), nil
	}
	return video.Lookup(cfg.Backend)
}

// NewPipelineConfig 配置文件中非零的参数覆盖默认值
func NewPipelineConfig(a conf.Analysis, workDir string) pipeline.Config {
	cfg := pipeline.DefaultConfig(workDir)
	if len(a.Keypoints) > 0 {
		cfg.Keypoints = a.Keypoints
	}
	if a.TrackedKeypoint != "" {
		cfg.TrackedKeypoint = a.TrackedKeypoint
	}
	if a.ProximityThreshold > 0 {
		cfg.ProximityThreshold = a.ProximityThreshold
	}
	if a.MinInteractionFrames > 0 {
		cfg.Segment.MinInteractionFrames = a.MinInteractionFrames
	}
	if a.MaxGapFrames > 0 {
		cfg.Segment.MaxGapFrames = a.MaxGapFrames
	}
	if a.MaxClassChangeFrames > 0 {
		cfg.Segment.MaxClassChangeFrames = a.MaxClassChangeFrames
	}
	if len(a.ExplorationClasses) > 0 {
		cfg.ExplorationClasses = a.ExplorationClasses
	}
	if a.ClipMarginFrames > 0 {
		cfg.ClipMargin = a.ClipMarginFrames
	}
	if a.ROIFrameIndex > 0 {
		cfg.ROIFrameIndex = a.ROIFrameIndex
	}
	return cfg
}

// NewAnalyzer 每次任务使用实验自己的工作目录
func NewAnalyzer(bc *conf.Bootstrap, core experiment.Core, opener video.Opener, detector pipeline.Detector) experiment.AnalyzeFunc {
	return func(ctx context.Context, workDir string, in pipeline.Input) (*pipeline.Result, error) {
		opts := []pipeline.Option{
			pipeline.WithClipOptions(clip.WithDiskGuard(core.DiskGuard)),
		}
		if detector != nil {
			opts = append(opts, pipeline.WithDetector(detector))
		}
		return pipeline.New(NewPipelineConfig(bc.Analysis, workDir), opener, opts...).Run(ctx, in)
	}
}

// NewRunner 创建任务执行器并启动
func NewRunner(core experiment.Core, analyze experiment.AnalyzeFunc, notifier experiment.Notifier, bc *conf.Bootstrap, log *slog.Logger) (*experiment.Runner, func()) {
	runner := experiment.NewRunner(core, analyze,
		experiment.WithNotifier(notifier),
		experiment.WithRunnerLogger(log.With("module", "runner")),
		experiment.WithRetry(bc.Analysis.MaxRetries, bc.Analysis.RetryBackoff.Duration()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go runner.Start(ctx)
	return runner, cancel
}
