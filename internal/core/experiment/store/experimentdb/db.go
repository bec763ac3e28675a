// Package experimentdb 实验数据的 gorm 存储
package experimentdb

import (
	"context"

	"github.com/gowvp/nora/internal/core/experiment"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var _ experiment.Storer = DB{}

// DB Related business namespaces
type DB struct {
	db *gorm.DB
}

// NewDB instance object
func NewDB(db *gorm.DB) DB {
	return DB{db: db}
}

// Experiment Get business instance
func (d DB) Experiment() experiment.ExperimentStorer {
	return NewTable[experiment.Experiment](d.db)
}

// Object Get business instance
func (d DB) Object() experiment.ObjectStorer {
	return NewTable[experiment.Object](d.db)
}

// Episode Get business instance
func (d DB) Episode() experiment.EpisodeStorer {
	return NewTable[experiment.Episode](d.db)
}

// Metric Get business instance
func (d DB) Metric() experiment.MetricStorer {
	return NewTable[experiment.Metric](d.db)
}

// Clip Get business instance
func (d DB) Clip() experiment.ClipStorer {
	return NewTable[experiment.Clip](d.db)
}

// Behavior Get business instance
func (d DB) Behavior() experiment.BehaviorStorer {
	return NewTable[experiment.Behavior](d.db)
}

// AutoMigrate sync database
func (d DB) AutoMigrate(ok bool) DB {
	if !ok {
		return d
	}
	if err := d.db.AutoMigrate(
		new(experiment.Experiment),
		new(experiment.Object),
		new(experiment.Episode),
		new(experiment.Metric),
		new(experiment.Clip),
		new(experiment.Behavior),
	); err != nil {
		panic(err)
	}
	return d
}

// Table 通用的单表实现
type Table[T any] struct {
	db *gorm.DB
}

var _ experiment.Table[experiment.Experiment] = Table[experiment.Experiment]{}

func NewTable[T any](db *gorm.DB) Table[T] {
	return Table[T]{db: db}
}

func apply(db *gorm.DB, opts ...orm.QueryOption) *gorm.DB {
	for _, fn := range opts {
		db = fn(db)
	}
	return db
}

// Find implements experiment.Table.
func (t Table[T]) Find(ctx context.Context, out *[]*T, pager orm.Pager, opts ...orm.QueryOption) (int64, error) {
	db := apply(t.db.WithContext(ctx).Model(new(T)), opts...).Session(&gorm.Session{})
	var total int64
	if err := db.Count(&total).Error; err != nil || total == 0 {
		return total, err
	}
	if pager != nil {
		db = db.Limit(pager.Limit()).Offset(pager.Offset())
	}
	return total, db.Find(out).Error
}

// Get implements experiment.Table.
func (t Table[T]) Get(ctx context.Context, out *T, opts ...orm.QueryOption) error {
	return apply(t.db.WithContext(ctx), opts...).First(out).Error
}

// Add implements experiment.Table.
func (t Table[T]) Add(ctx context.Context, in *T) error {
	return t.db.WithContext(ctx).Create(in).Error
}

// Edit implements experiment.Table.
func (t Table[T]) Edit(ctx context.Context, out *T, changeFn func(*T), opts ...orm.QueryOption) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := apply(tx, opts...).First(out).Error; err != nil {
			return err
		}
		changeFn(out)
		return tx.Save(out).Error
	})
}

// Del implements experiment.Table.
func (t Table[T]) Del(ctx context.Context, out *T, opts ...orm.QueryOption) error {
	db := t.db.WithContext(ctx)
	if err := apply(db, opts...).First(out).Error; err != nil {
		return err
	}
	return db.Delete(out).Error
}

// Count implements experiment.Table.
func (t Table[T]) Count(ctx context.Context, opts ...orm.QueryOption) (int64, error) {
	var total int64
	err := apply(t.db.WithContext(ctx).Model(new(T)), opts...).Count(&total).Error
	return total, err
}

// Session implements experiment.Table.
// changeFns 在同一个事务中依次执行
func (t Table[T]) Session(ctx context.Context, changeFns ...func(*gorm.DB) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, fn := range changeFns {
			if err := fn(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// EditWithSession implements experiment.Table.
func (t Table[T]) EditWithSession(tx *gorm.DB, out *T, changeFn func(*T) error, opts ...orm.QueryOption) error {
	if err := apply(tx, opts...).First(out).Error; err != nil {
		return err
	}
	if err := changeFn(out); err != nil {
		return err
	}
	return tx.Save(out).Error
}
