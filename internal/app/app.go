// Package app 组装并运行 http 服务
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gowvp/nora/internal/conf"
	"github.com/lmittmann/tint"
)

// SetupLog 控制台彩色日志，level 取值 debug/info/warn/error
func SetupLog(bc *conf.Bootstrap) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(bc.Log.Level))); err != nil {
		level = slog.LevelInfo
	}
	if bc.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		AddSource:  bc.Debug,
	}))
	slog.SetDefault(log)
	return log
}

// Run 启动服务，收到退出信号后优雅关闭
func Run(bc *conf.Bootstrap, log *slog.Logger) error {
	handler, cleanup, err := wireApp(bc, log)
	if err != nil {
		return err
	}
	defer cleanup()

	timeout := bc.Server.HTTP.Timeout.Duration()
	svc := http.Server{
		Addr:              fmt.Sprintf(":%d", bc.Server.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// 上传与下载视频耗时较长，只限制请求头
		IdleTimeout: 2 * timeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server started", "port", bc.Server.HTTP.Port, "version", bc.BuildVersion)
		if err := svc.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return svc.Shutdown(shutdownCtx)
}
