package experiment

import (
	"github.com/gowvp/nora/internal/core/roi"
	"github.com/ixugo/goddd/pkg/web"
)

type FindExperimentInput struct {
	web.PagerFilter
	Key    string `form:"key"`    // 名称或小鼠名称
	Status Status `form:"status"` // UPL/PRO/COM/ERR
}

type AddExperimentInput struct {
	Name        string         `json:"name" form:"name"`
	MouseName   string         `json:"mouse_name" form:"mouse_name"`
	Date        string         `json:"date" form:"date"`
	ExportClips bool           `json:"export_clips" form:"export_clips"`
	Autosegment bool           `json:"autosegment" form:"autosegment"`
	Provided    []roi.Provided `json:"rois" form:"-"` // 手动标注的物体区域
}

// EditObjectsInput 批量修改物体标签
type EditObjectsInput struct {
	Objects []EditObjectInput `json:"objects"`
}

type EditObjectInput struct {
	ID        int64 `json:"id"`
	Reference int   `json:"reference"`
	Label     Label `json:"label"`
}

type DelClipsInput struct {
	IDs []int64 `json:"ids"`
}

// Detail 实验详情
type Detail struct {
	*Experiment
	Objects             []*Object `json:"objects"`
	Metrics             []*Metric `json:"metrics"`
	Clips               []*Clip   `json:"clips"`
	NovelSeconds        float64   `json:"novel_seconds"`
	FamiliarSeconds     float64   `json:"familiar_seconds"`
	DiscriminationIndex float64   `json:"discrimination_index"`
}
