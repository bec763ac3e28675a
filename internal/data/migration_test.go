package data

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gowvp/nora/internal/core/experiment"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestSeedBehaviors(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "data.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(new(experiment.Behavior)); err != nil {
		t.Fatal(err)
	}

	// 重复执行不会产生重复数据
	for range 2 {
		if err := SeedBehaviors(db); err != nil {
			t.Fatal(err)
		}
	}

	var items []experiment.Behavior
	if err := db.Order("class_id ASC").Find(&items).Error; err != nil {
		t.Fatal(err)
	}
	if len(items) != 4 {
		t.Fatalf("expect 4 behaviors, got %d", len(items))
	}
	if items[0].Name != "exploration" || items[0].Type != experiment.BehaviorExploration {
		t.Fatalf("unexpected behavior %+v", items[0])
	}
	if items[3].Name != "rearing" || items[3].Type != experiment.BehaviorExploration {
		t.Fatalf("unexpected behavior %+v", items[3])
	}
}

func TestGetDialector(t *testing.T) {
	cases := []struct {
		dsn    string
		sqlite bool
		name   string
	}{
		{"postgres://u:p@localhost:5432/nora", false, "postgres"},
		{"mysql://u:p@tcp(localhost:3306)/nora", false, "mysql"},
		{"configs/data.db", true, "sqlite"},
	}
	for _, c := range cases {
		dial, isSQLite := getDialector(c.dsn)
		if isSQLite != c.sqlite || dial.Name() != c.name {
			t.Errorf("dsn %s: got %s sqlite=%v", c.dsn, dial.Name(), isSQLite)
		}
	}
}
