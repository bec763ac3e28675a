package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ixugo/goddd/pkg/conc"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/system"
	"github.com/shirou/gopsutil/v4/disk"
	"gorm.io/gorm"
)

// StartCleanupWorker 启动定时清理协程
// 启动时执行一次，随后每 60 分钟执行一次
func (c Core) StartCleanupWorker(ctx context.Context) {
	if c.conf == nil {
		return
	}
	slog.Info("experiment cleanup worker started",
		"retain_days", c.conf.RetainDays,
		"disk_threshold", c.conf.DiskUsageThreshold,
		"storage_dir", c.conf.Dir,
	)

	c.runCleanup(ctx)
	conc.Timer(ctx, time.Hour, time.Hour, func() {
		c.runCleanup(ctx)
	})
}

func (c Core) runCleanup(ctx context.Context) {
	c.cleanupExpired(ctx)
	c.cleanupByDiskUsage(ctx)
}

// StorageDir 存储根目录，相对路径基于工作目录
func (c Core) StorageDir() string {
	var dir string
	if c.conf != nil {
		dir = c.conf.Dir
	}
	if dir == "" {
		dir = "./experiments"
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(system.Getwd(), dir)
}

// cleanupExpired 删除超过保留天数的实验
func (c Core) cleanupExpired(ctx context.Context) {
	if c.conf.RetainDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -c.conf.RetainDays)
	deleted, failed := c.deleteExperiments(ctx, 0,
		orm.Where("created_at < ?", orm.Time{Time: cutoff}),
		orm.Where("status <> ?", StatusProcessing),
	)
	if deleted > 0 || failed > 0 {
		slog.Info("expired experiment cleanup completed",
			"retain_days", c.conf.RetainDays,
			"cutoff_time", cutoff.Format(time.DateTime),
			"deleted", deleted,
			"failed", failed,
		)
	}
}

// cleanupByDiskUsage 磁盘使用率超过阈值时，从最旧的实验开始删除，直到低于阈值
func (c Core) cleanupByDiskUsage(ctx context.Context) {
	if c.conf.DiskUsageThreshold <= 0 || c.conf.DiskUsageThreshold >= 100 {
		return
	}
	dir := c.StorageDir()
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return
	}

	var total int
	for range 100 {
		usage, err := diskUsage(dir)
		if err != nil {
			slog.Warn("failed to get disk usage", "err", err)
			return
		}
		if usage < c.conf.DiskUsageThreshold {
			break
		}
		deleted, _ := c.deleteExperiments(ctx, 1,
			orm.Where("status <> ?", StatusProcessing),
		)
		if deleted == 0 {
			slog.Warn("disk usage above threshold but nothing left to delete", "usage", usage)
			break
		}
		total += deleted
	}
	if total > 0 {
		slog.Info("disk usage cleanup completed", "threshold", c.conf.DiskUsageThreshold, "deleted", total)
	}
}

// deleteExperiments 按创建时间从旧到新删除，limit 为 0 时删除全部匹配项
func (c Core) deleteExperiments(ctx context.Context, limit int, conditions ...orm.QueryOption) (deleted, failed int) {
	var items []*Experiment
	opts := append([]orm.QueryOption{orm.OrderBy("created_at ASC")}, conditions...)
	p := allRows
	if limit > 0 {
		p = pager{limit: limit}
	}
	if _, err := c.store.Experiment().Find(ctx, &items, p, opts...); err != nil {
		slog.Warn("find experiments for cleanup", "err", err)
		return 0, 0
	}

	for _, exp := range items {
		err := c.store.Experiment().Session(ctx, func(tx *gorm.DB) error {
			return deleteResults(tx, exp.ID)
		}, func(tx *gorm.DB) error {
			return tx.Delete(&Experiment{}, exp.ID).Error
		})
		if err != nil {
			slog.Warn("delete experiment", "id", exp.ID, "err", err)
			failed++
			continue
		}
		if exp.WorkDir != "" {
			if err := os.RemoveAll(exp.WorkDir); err != nil {
				slog.Warn("remove work dir", "dir", exp.WorkDir, "err", err)
				failed++
			}
		}
		deleted++
	}
	return deleted, failed
}

// DiskGuard 存储目录所在磁盘使用率超过阈值时返回错误
func (c Core) DiskGuard(dir string) error {
	if c.conf == nil || c.conf.DiskUsageThreshold <= 0 || c.conf.DiskUsageThreshold >= 100 {
		return nil
	}
	usage, err := diskUsage(dir)
	if err != nil {
		return nil
	}
	if usage >= c.conf.DiskUsageThreshold {
		return fmt.Errorf("disk usage %.1f%% exceeds threshold %.1f%%", usage, c.conf.DiskUsageThreshold)
	}
	return nil
}

// diskUsage 指定路径所在磁盘的使用率(百分比)
func diskUsage(path string) (float64, error) {
	st, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return st.UsedPercent, nil
}
