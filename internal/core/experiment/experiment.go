package experiment

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"github.com/jinzhu/copier"
	"gorm.io/gorm"
)

// FindExperiments 分页查询实验列表
func (c Core) FindExperiments(ctx context.Context, in *FindExperimentInput) ([]*Experiment, int64, error) {
	query := orm.NewQuery(3).OrderBy("id DESC")
	if in.Key != "" {
		query.Where("name LIKE ? OR mouse_name LIKE ?", "%"+in.Key+"%", "%"+in.Key+"%")
	}
	if in.Status != "" {
		query.Where("status = ?", in.Status)
	}

	items := make([]*Experiment, 0, in.Limit())
	total, err := c.store.Experiment().Find(ctx, &items, in, query.Encode()...)
	if err != nil {
		return nil, 0, reason.ErrDB.Withf(`Find in[%+v] err[%s]`, in, err.Error())
	}
	return items, total, nil
}

// GetExperiment Query a single object
func (c Core) GetExperiment(ctx context.Context, id int64) (*Experiment, error) {
	var out Experiment
	if err := c.store.Experiment().Get(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// AddExperiment 创建实验并保存视频，状态为 UPL
func (c Core) AddExperiment(ctx context.Context, in *AddExperimentInput, filename string, video io.Reader) (*Experiment, error) {
	if in.Name == "" {
		return nil, reason.ErrBadRequest.Withf("name is required")
	}
	if c.storage == nil {
		return nil, reason.ErrServer.Withf("file storage not configured")
	}

	var out Experiment
	if err := copier.Copy(&out, in); err != nil {
		slog.ErrorContext(ctx, "Copy", "err", err)
	}
	out.Status = StatusUploaded
	out.UpdatedAt = orm.Now()
	out.CreatedAt = orm.Now()
	if len(in.Provided) > 0 {
		b, err := json.Marshal(in.Provided)
		if err != nil {
			return nil, reason.ErrBadRequest.Withf(`rois err[%s]`, err.Error())
		}
		out.ROIs = string(b)
	}
	if err := c.store.Experiment().Add(ctx, &out); err != nil {
		return nil, reason.ErrDB.Withf(`Add err[%s]`, err.Error())
	}

	name := filepath.Join(strconv.FormatInt(out.ID, 10), filepath.Base(filename))
	path, err := c.storage.Save(ctx, name, video)
	if err != nil {
		_ = c.store.Experiment().Del(ctx, &Experiment{}, orm.Where("id=?", out.ID))
		return nil, reason.ErrServer.Withf(`save video err[%s]`, err.Error())
	}

	if err := c.store.Experiment().Edit(ctx, &out, func(e *Experiment) {
		e.VideoPath = path
		e.WorkDir = filepath.Dir(path)
		e.UpdatedAt = orm.Now()
	}, orm.Where("id=?", out.ID)); err != nil {
		return nil, reason.ErrDB.Withf(`Edit id[%v] err[%s]`, out.ID, err.Error())
	}
	return &out, nil
}

// DelExperiment 删除实验、关联数据与工作目录
func (c Core) DelExperiment(ctx context.Context, id int64) (*Experiment, error) {
	out, err := c.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	if out.Status == StatusProcessing {
		return nil, reason.ErrBadRequest.Withf("experiment[%d] is processing", id)
	}

	if err := c.store.Experiment().Session(ctx, func(tx *gorm.DB) error {
		return deleteResults(tx, id)
	}, func(tx *gorm.DB) error {
		return tx.Delete(&Experiment{}, id).Error
	}); err != nil {
		return nil, reason.ErrDB.Withf(`Del id[%v] err[%s]`, id, err.Error())
	}

	if out.WorkDir != "" {
		if err := os.RemoveAll(out.WorkDir); err != nil {
			slog.WarnContext(ctx, "remove work dir", "dir", out.WorkDir, "err", err)
		}
	}
	return out, nil
}

// GetDetail 实验详情，包含物体、指标、片段与辨别指数
func (c Core) GetDetail(ctx context.Context, id int64) (*Detail, error) {
	exp, err := c.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	out := Detail{
		Experiment: exp,
		Objects:    make([]*Object, 0, 2),
		Metrics:    make([]*Metric, 0, 2),
		Clips:      make([]*Clip, 0, 8),
	}
	byExperiment := orm.Where("experiment_id = ?", id)
	if _, err := c.store.Object().Find(ctx, &out.Objects, allRows, byExperiment, orm.OrderBy("id ASC")); err != nil {
		return nil, reason.ErrDB.Withf(`Find objects err[%s]`, err.Error())
	}
	if _, err := c.store.Metric().Find(ctx, &out.Metrics, allRows, byExperiment, orm.OrderBy("class_id ASC, object_roi ASC")); err != nil {
		return nil, reason.ErrDB.Withf(`Find metrics err[%s]`, err.Error())
	}
	if _, err := c.store.Clip().Find(ctx, &out.Clips, allRows, byExperiment, orm.OrderBy("start_frame ASC")); err != nil {
		return nil, reason.ErrDB.Withf(`Find clips err[%s]`, err.Error())
	}
	for _, clip := range out.Clips {
		clip.Path = c.URL(clip.Path)
	}

	out.NovelSeconds, out.FamiliarSeconds, out.DiscriminationIndex = DiscriminationIndex(out.Objects)
	return &out, nil
}

// DiscriminationIndex (新物体 - 熟悉物体) / (新物体 + 熟悉物体)，无探索时间时为 0
func DiscriminationIndex(objects []*Object) (novel, familiar, index float64) {
	for _, o := range objects {
		switch o.Label {
		case LabelNovel:
			novel += o.Seconds
		case LabelFamiliar:
			familiar += o.Seconds
		}
	}
	if total := novel + familiar; total > 0 {
		index = (novel - familiar) / total
	}
	return novel, familiar, index
}

// FindEpisodes 实验的全部片段，按起始帧排序
func (c Core) FindEpisodes(ctx context.Context, id int64) ([]*Episode, error) {
	out := make([]*Episode, 0, 16)
	if _, err := c.store.Episode().Find(ctx, &out, allRows,
		orm.Where("experiment_id = ?", id), orm.OrderBy("start_frame ASC, id ASC"),
	); err != nil {
		return nil, reason.ErrDB.Withf(`Find episodes err[%s]`, err.Error())
	}
	return out, nil
}

// FindBehaviors 行为目录
func (c Core) FindBehaviors(ctx context.Context) ([]*Behavior, error) {
	out := make([]*Behavior, 0, 4)
	if _, err := c.store.Behavior().Find(ctx, &out, allRows, orm.OrderBy("class_id ASC")); err != nil {
		return nil, reason.ErrDB.Withf(`Find behaviors err[%s]`, err.Error())
	}
	return out, nil
}

// InputKind 随视频上传的附加文件类型
type InputKind int

const (
	InputROI InputKind = iota + 1
	InputDetection
)

// SaveInput 保存 ROI 描述或检测表到实验工作目录，分析时直接使用
func (c Core) SaveInput(ctx context.Context, id int64, kind InputKind, filename string, r io.Reader) (*Experiment, error) {
	if kind != InputROI && kind != InputDetection {
		return nil, reason.ErrBadRequest.Withf("unknown input kind[%d]", kind)
	}
	exp, err := c.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.storage == nil {
		return nil, reason.ErrServer.Withf("file storage not configured")
	}

	name := filepath.Join(strconv.FormatInt(exp.ID, 10), "input_"+filepath.Base(filename))
	path, err := c.storage.Save(ctx, name, r)
	if err != nil {
		return nil, reason.ErrServer.Withf(`save input err[%s]`, err.Error())
	}

	var out Experiment
	if err := c.store.Experiment().Edit(ctx, &out, func(e *Experiment) {
		if kind == InputROI {
			e.ROIPath = path
		} else {
			e.DetectionPath = path
		}
		e.UpdatedAt = orm.Now()
	}, orm.Where("id=?", exp.ID)); err != nil {
		return nil, reason.ErrDB.Withf(`Edit id[%v] err[%s]`, exp.ID, err.Error())
	}
	return &out, nil
}
