package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/gowvp/nora/internal/app"
	"github.com/gowvp/nora/internal/conf"
	"github.com/gowvp/nora/internal/core/pipeline"
	"github.com/gowvp/nora/internal/web/api"
	"github.com/ixugo/goddd/pkg/system"

	_ "github.com/gowvp/nora/pkg/video/cvvideo"
)

var buildVersion = "dev"

const usage = `Usage:
  nora serve   -conf configs/config.toml
  nora analyze -video v.mp4 [-detections pred.csv] [-rois rois.json] [-out dir] [-clips] [-autosegment]`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = serve(os.Args[2:])
	case "analyze":
		err = analyze(os.Args[2:])
	default:
		fmt.Println(usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("nora exited", "err", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (conf.Bootstrap, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(system.Getwd(), path)
	}
	bc, err := conf.SetupConfig(path)
	bc.BuildVersion = buildVersion
	return bc, err
}

func serve(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("conf", "configs/config.toml", "配置文件路径")
	_ = fs.Parse(args)

	bc, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	log := app.SetupLog(&bc)
	return app.Run(&bc, log)
}

func analyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("conf", "", "配置文件路径，为空使用默认参数")
	videoPath := fs.String("video", "", "实验视频")
	detections := fs.String("detections", "", "已有的检测 CSV")
	rois := fs.String("rois", "", "已有的 ROI 描述 JSON")
	out := fs.String("out", "", "输出目录，默认与视频同目录")
	clips := fs.Bool("clips", false, "导出交互片段")
	autosegment := fs.Bool("autosegment", false, "缺少 ROI 描述时调用检测服务识别")
	_ = fs.Parse(args)

	if *videoPath == "" {
		fmt.Println(usage)
		os.Exit(2)
	}

	bc := conf.DefaultConfig()
	if *configPath != "" {
		var err error
		if bc, err = loadConfig(*configPath); err != nil {
			return err
		}
	}
	log := app.SetupLog(&bc)

	workDir := *out
	if workDir == "" {
		workDir = filepath.Dir(*videoPath)
	}

	opener, err := api.NewVideoOpener(&bc)
	if err != nil {
		return err
	}
	opts := []pipeline.Option{pipeline.WithLogger(log)}
	detector, closeDetector, err := api.NewDetector(&bc)
	if err != nil {
		return err
	}
	defer closeDetector()
	if detector != nil {
		opts = append(opts, pipeline.WithDetector(detector))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.New(api.NewPipelineConfig(bc.Analysis, workDir), opener, opts...).Run(ctx, pipeline.Input{
		VideoPath:            *videoPath,
		ROIPath:              *rois,
		DetectionPath:        *detections,
		ExportClips:          *clips,
		AutosegmentIfMissing: *autosegment,
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "class_id\tobject_roi\ttotal_episodes\tsum_frames\ttotal_time_seconds")
	for _, m := range result.AggregatedMetrics {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%.3f\n", m.ClassID, m.ObjectROI, m.TotalEpisodes, m.SumFrames, m.TotalTimeSeconds)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nepisodes: %s\naggregated: %s\nclips: %d\n", result.EpisodesPath, result.AggregatedPath, len(result.GeneratedClips))
	return nil
}
