package experiment

import (
	"context"
	"log/slog"
	"os"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"gorm.io/gorm"
)

// FindClips 实验的片段列表，按起始帧升序
func (c Core) FindClips(ctx context.Context, experimentID int64) ([]*Clip, error) {
	out := make([]*Clip, 0, 8)
	if _, err := c.store.Clip().Find(ctx, &out, allRows,
		orm.Where("experiment_id = ?", experimentID), orm.OrderBy("start_frame ASC, id ASC"),
	); err != nil {
		return nil, reason.ErrDB.Withf(`Find clips err[%s]`, err.Error())
	}
	return out, nil
}

// GetClip Query a single object
func (c Core) GetClip(ctx context.Context, id int64) (*Clip, error) {
	var out Clip
	if err := c.store.Clip().Get(ctx, &out, orm.Where("id=?", id)); err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`Get id[%v] err[%s]`, id, err.Error())
		}
		return nil, reason.ErrDB.Withf(`Get id[%v] err[%s]`, id, err.Error())
	}
	return &out, nil
}

// DelClips 批量删除片段记录与文件，只删除属于该实验的片段
func (c Core) DelClips(ctx context.Context, experimentID int64, in *DelClipsInput) ([]*Clip, error) {
	if len(in.IDs) == 0 {
		return nil, reason.ErrBadRequest.Withf("ids is empty")
	}

	clips := make([]*Clip, 0, len(in.IDs))
	if _, err := c.store.Clip().Find(ctx, &clips, allRows,
		orm.Where("experiment_id = ? AND id IN ?", experimentID, in.IDs),
	); err != nil {
		return nil, reason.ErrDB.Withf(`Find clips err[%s]`, err.Error())
	}
	if len(clips) == 0 {
		return clips, nil
	}

	ids := make([]int64, 0, len(clips))
	for _, clip := range clips {
		ids = append(ids, clip.ID)
	}
	if err := c.store.Clip().Session(ctx, func(tx *gorm.DB) error {
		return tx.Where("id IN ?", ids).Delete(&Clip{}).Error
	}); err != nil {
		return nil, reason.ErrDB.Withf(`Del clips err[%s]`, err.Error())
	}

	for _, clip := range clips {
		if clip.Path == "" {
			continue
		}
		if err := os.Remove(clip.Path); err != nil && !os.IsNotExist(err) {
			slog.WarnContext(ctx, "remove clip file", "path", clip.Path, "err", err)
		}
	}
	return clips, nil
}
