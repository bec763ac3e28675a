package data

import (
	"context"
	"log/slog"

	"github.com/gowvp/nora/internal/core/experiment"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedBehaviors 写入初始行为目录，已存在的类别保持不变
func SeedBehaviors(db *gorm.DB) error {
	ctx := context.Background()
	items := experiment.DefaultBehaviors()

	result := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "class_id"}},
		DoNothing: true,
	}).Create(&items)
	if result.Error != nil {
		slog.Error("写入行为目录失败", "err", result.Error)
		return result.Error
	}
	if result.RowsAffected > 0 {
		slog.Info("行为目录已初始化", "count", result.RowsAffected)
	}
	return nil
}
