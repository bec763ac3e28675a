package experiment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"gorm.io/gorm"
)

// ParseReference 从 ROI 名称末尾的 _<n> 解析物体编号，缺省为 1
func ParseReference(name string) int {
	i := strings.LastIndexByte(name, '_')
	if i < 0 || i == len(name)-1 {
		return 1
	}
	n, err := strconv.Atoi(name[i+1:])
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

// DefaultLabel 编号 1 为新物体，其余为熟悉物体
func DefaultLabel(reference int) Label {
	if reference == 1 {
		return LabelNovel
	}
	return LabelFamiliar
}

var errInvalidLabel = errors.New("invalid label")

func validateLabel(reference int, label Label) error {
	switch label {
	case LabelNovel:
		if reference != 1 {
			return fmt.Errorf("%w: only reference 1 can be labeled NOV, got reference[%d]", errInvalidLabel, reference)
		}
	case LabelFamiliar:
	default:
		return fmt.Errorf("%w: unknown label[%s]", errInvalidLabel, label)
	}
	return nil
}

// FindObjects 实验的物体列表
func (c Core) FindObjects(ctx context.Context, experimentID int64) ([]*Object, error) {
	out := make([]*Object, 0, 2)
	if _, err := c.store.Object().Find(ctx, &out, allRows,
		orm.Where("experiment_id = ?", experimentID), orm.OrderBy("id ASC"),
	); err != nil {
		return nil, reason.ErrDB.Withf(`Find objects err[%s]`, err.Error())
	}
	return out, nil
}

// EditObjects 修改物体编号与标签，任意一项校验失败时整体不生效
func (c Core) EditObjects(ctx context.Context, experimentID int64, in *EditObjectsInput) ([]*Object, error) {
	if len(in.Objects) == 0 {
		return nil, reason.ErrBadRequest.Withf("objects is empty")
	}
	for _, o := range in.Objects {
		ref := o.Reference
		if ref <= 0 {
			ref = 1
		}
		if err := validateLabel(ref, o.Label); err != nil {
			return nil, reason.ErrBadRequest.Withf("object[%d] %s", o.ID, err.Error())
		}
	}

	err := c.store.Object().Session(ctx, func(tx *gorm.DB) error {
		for _, o := range in.Objects {
			var obj Object
			if err := c.store.Object().EditWithSession(tx, &obj, func(b *Object) error {
				if o.Reference > 0 {
					b.Reference = o.Reference
				}
				b.Label = o.Label
				return validateLabel(b.Reference, b.Label)
			}, orm.Where("id = ? AND experiment_id = ?", o.ID, experimentID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, reason.ErrNotFound.Withf(`EditObjects err[%s]`, err.Error())
		}
		if errors.Is(err, errInvalidLabel) {
			return nil, reason.ErrBadRequest.Withf(`EditObjects err[%s]`, err.Error())
		}
		return nil, reason.ErrDB.Withf(`EditObjects err[%s]`, err.Error())
	}
	return c.FindObjects(ctx, experimentID)
}
