// Package experiment 管理实验的上传、分析任务与结果
package experiment

import (
	"context"
	"io"

	"github.com/gowvp/nora/internal/conf"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

// Table 单表的存储接口
type Table[T any] interface {
	Find(context.Context, *[]*T, orm.Pager, ...orm.QueryOption) (int64, error)
	Get(context.Context, *T, ...orm.QueryOption) error
	Add(context.Context, *T) error
	Edit(context.Context, *T, func(*T), ...orm.QueryOption) error
	Del(context.Context, *T, ...orm.QueryOption) error
	Count(context.Context, ...orm.QueryOption) (int64, error)

	Session(context.Context, ...func(*gorm.DB) error) error
	EditWithSession(*gorm.DB, *T, func(*T) error, ...orm.QueryOption) error
}

type (
	ExperimentStorer = Table[Experiment]
	ObjectStorer     = Table[Object]
	EpisodeStorer    = Table[Episode]
	MetricStorer     = Table[Metric]
	ClipStorer       = Table[Clip]
	BehaviorStorer   = Table[Behavior]
)

// Storer data persistence
type Storer interface {
	Experiment() ExperimentStorer
	Object() ObjectStorer
	Episode() EpisodeStorer
	Metric() MetricStorer
	Clip() ClipStorer
	Behavior() BehaviorStorer
}

// FileStorage 上传文件的存放位置
type FileStorage interface {
	// Save 保存文件，返回本地路径
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	// URL 本地路径对应的访问地址
	URL(path string) string
}

// Core business domain
type Core struct {
	store   Storer
	conf    *conf.ServerStorage
	storage FileStorage
}

type Option func(*Core)

// WithConfig 注入存储配置
func WithConfig(conf *conf.ServerStorage) Option {
	return func(c *Core) {
		c.conf = conf
	}
}

// WithFileStorage 注入文件存储
func WithFileStorage(s FileStorage) Option {
	return func(c *Core) {
		c.storage = s
	}
}

// NewCore create business domain
func NewCore(store Storer, opts ...Option) Core {
	c := Core{store: store}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// URL 文件访问地址，未配置存储时原样返回
func (c Core) URL(path string) string {
	if c.storage == nil || path == "" {
		return path
	}
	return c.storage.URL(path)
}

// pager 内部使用的分页器
type pager struct {
	limit int
}

func (p pager) Offset() int { return 0 }
func (p pager) Limit() int  { return p.limit }

var allRows = pager{limit: 10000}
