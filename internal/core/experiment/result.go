package experiment

import (
	"context"
	"math"

	"github.com/gowvp/nora/internal/core/metrics"
	"github.com/gowvp/nora/internal/core/pipeline"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/ixugo/goddd/pkg/reason"
	"gorm.io/gorm"
)

// deleteResults 删除实验的分析结果，保留实验本身
func deleteResults(tx *gorm.DB, experimentID int64) error {
	for _, model := range []any{&Object{}, &Episode{}, &Metric{}, &Clip{}} {
		if err := tx.Where("experiment_id = ?", experimentID).Delete(model).Error; err != nil {
			return err
		}
	}
	return nil
}

// frameSeconds 帧号换算为秒，保留到毫秒
func frameSeconds(frame int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return math.Round(float64(frame)/fps*1000) / 1000
}

// SaveResult 用本次分析结果替换实验之前的结果，并标记为 COM
func (c Core) SaveResult(ctx context.Context, experimentID int64, res *pipeline.Result) error {
	seconds := metrics.SecondsByROI(res.AggregatedMetrics)

	objects := make([]*Object, 0, len(res.ROIs))
	for _, r := range res.ROIs {
		ref := ParseReference(r.Name)
		objects = append(objects, &Object{
			ExperimentID: experimentID,
			Name:         r.Name,
			Reference:    ref,
			Label:        DefaultLabel(ref),
			ClassID:      r.ClassID,
			Seconds:      seconds[r.Name],
			X1:           r.Box.X1,
			Y1:           r.Box.Y1,
			X2:           r.Box.X2,
			Y2:           r.Box.Y2,
		})
	}

	episodes := make([]*Episode, 0, len(res.Episodes))
	for _, e := range res.Episodes {
		episodes = append(episodes, &Episode{
			ExperimentID:    experimentID,
			StartFrame:      e.StartFrame,
			EndFrame:        e.EndFrame,
			Duration:        e.Duration,
			ClassID:         e.ClassID,
			ObjectROI:       e.ObjectROI,
			DurationSeconds: e.DurationSeconds,
		})
	}

	items := make([]*Metric, 0, len(res.AggregatedMetrics))
	for _, m := range res.AggregatedMetrics {
		items = append(items, &Metric{
			ExperimentID:     experimentID,
			ClassID:          m.ClassID,
			ObjectROI:        m.ObjectROI,
			TotalEpisodes:    m.TotalEpisodes,
			SumFrames:        m.SumFrames,
			TotalTimeSeconds: m.TotalTimeSeconds,
		})
	}

	err := c.store.Experiment().Session(ctx,
		func(tx *gorm.DB) error {
			return deleteResults(tx, experimentID)
		},
		func(tx *gorm.DB) error {
			if len(objects) == 0 {
				return nil
			}
			return tx.Create(&objects).Error
		},
		func(tx *gorm.DB) error {
			if len(episodes) == 0 {
				return nil
			}
			return tx.CreateInBatches(&episodes, 500).Error
		},
		func(tx *gorm.DB) error {
			if len(items) == 0 {
				return nil
			}
			return tx.Create(&items).Error
		},
		func(tx *gorm.DB) error {
			objectIDs := make(map[string]int64, len(objects))
			for _, o := range objects {
				objectIDs[o.Name] = o.ID
			}
			clips := make([]*Clip, 0, len(res.GeneratedClips))
			for _, f := range res.GeneratedClips {
				start := frameSeconds(f.Range.Start, res.FPS)
				end := frameSeconds(f.Range.End+1, res.FPS)
				clips = append(clips, &Clip{
					ExperimentID: experimentID,
					ObjectID:     objectIDs[f.Episode.ObjectROI],
					ObjectROI:    f.Episode.ObjectROI,
					Behavior:     f.Episode.ClassID,
					Path:         f.Path,
					StartFrame:   f.Range.Start,
					EndFrame:     f.Range.End,
					StartTime:    start,
					EndTime:      end,
					Duration:     math.Round((end-start)*1000) / 1000,
					Valid:        f.Written > 0,
					Partial:      f.Partial,
					CreatedAt:    orm.Now(),
				})
			}
			if len(clips) == 0 {
				return nil
			}
			return tx.Create(&clips).Error
		},
		func(tx *gorm.DB) error {
			var exp Experiment
			return c.store.Experiment().EditWithSession(tx, &exp, func(e *Experiment) error {
				e.Status = StatusCompleted
				e.LastError = ""
				e.FPS = res.FPS
				e.TotalFrames = res.Video.TotalFrames
				e.ROISourcePath = res.ROISourcePath
				e.DetectionSourcePath = res.DetectionSourcePath
				e.UpdatedAt = orm.Now()
				return nil
			}, orm.Where("id = ?", experimentID))
		},
	)
	if err != nil {
		return reason.ErrDB.Withf(`SaveResult id[%v] err[%s]`, experimentID, err.Error())
	}
	return nil
}

// setStatus 更新实验状态
func (c Core) setStatus(ctx context.Context, experimentID int64, status Status, attempts int, lastErr string) error {
	var out Experiment
	if err := c.store.Experiment().Edit(ctx, &out, func(e *Experiment) {
		e.Status = status
		e.Attempts = attempts
		e.LastError = lastErr
		e.UpdatedAt = orm.Now()
	}, orm.Where("id = ?", experimentID)); err != nil {
		return reason.ErrDB.Withf(`setStatus id[%v] err[%s]`, experimentID, err.Error())
	}
	return nil
}
