package experiment

import (
	"github.com/ixugo/goddd/pkg/orm"
)

// Status 实验处理状态
type Status string

const (
	StatusUploaded   Status = "UPL"
	StatusProcessing Status = "PRO"
	StatusCompleted  Status = "COM"
	StatusFailed     Status = "ERR"
)

// Label 物体标签
type Label string

const (
	LabelNovel    Label = "NOV"
	LabelFamiliar Label = "FAM"
)

// BehaviorType 行为分组
type BehaviorType string

const (
	BehaviorExploration BehaviorType = "EXP"
	BehaviorOther       BehaviorType = "OTH"
)

// Experiment 一次新物体识别实验
type Experiment struct {
	ID                  int64    `gorm:"primaryKey" json:"id"`
	Name                string   `gorm:"column:name;notNull;default:''" json:"name"`
	MouseName           string   `gorm:"column:mouse_name;notNull;default:''" json:"mouse_name"`
	Date                string   `gorm:"column:date;notNull;default:''" json:"date"` // 实验日期 YYYY-MM-DD
	VideoPath           string   `gorm:"column:video_path;notNull;default:''" json:"video_path"`
	WorkDir             string   `gorm:"column:work_dir;notNull;default:''" json:"work_dir"`
	Status              Status   `gorm:"column:status;notNull;default:'UPL';index" json:"status"`
	Attempts            int      `gorm:"column:attempts;notNull;default:0" json:"attempts"`
	LastError           string   `gorm:"column:last_error;notNull;default:''" json:"last_error"`
	FPS                 float64  `gorm:"column:fps;notNull;default:0" json:"fps"`
	TotalFrames         int      `gorm:"column:total_frames;notNull;default:0" json:"total_frames"`
	ROIs                string   `gorm:"column:rois;notNull;default:''" json:"-"` // 上传时提供的 ROI，JSON 数组
	ROIPath             string   `gorm:"column:roi_path;notNull;default:''" json:"-"`
	DetectionPath       string   `gorm:"column:detection_path;notNull;default:''" json:"-"`
	ROISourcePath       string   `gorm:"column:roi_source_path;notNull;default:''" json:"roi_source_path"`
	DetectionSourcePath string   `gorm:"column:detection_source_path;notNull;default:''" json:"detection_source_path"`
	ExportClips         bool     `gorm:"column:export_clips;notNull" json:"export_clips"`
	Autosegment         bool     `gorm:"column:autosegment;notNull" json:"autosegment"`
	CreatedAt           orm.Time `gorm:"column:created_at;notNull;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt           orm.Time `gorm:"column:updated_at;notNull;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName database table name
func (*Experiment) TableName() string {
	return "experiments"
}

// Object 实验中的一个物体，对应一个 ROI
type Object struct {
	ID           int64   `gorm:"primaryKey" json:"id"`
	ExperimentID int64   `gorm:"column:experiment_id;notNull;index" json:"experiment_id"`
	Name         string  `gorm:"column:name;notNull;default:''" json:"name"` // ROI 名称
	Reference    int     `gorm:"column:reference;notNull;default:1" json:"reference"`
	Label        Label   `gorm:"column:label;notNull;default:'FAM'" json:"label"`
	ClassID      int     `gorm:"column:class_id;notNull;default:0" json:"class_id"`
	Seconds      float64 `gorm:"column:seconds;notNull;default:0" json:"time"` // 探索总时长
	X1           float64 `gorm:"column:x1;notNull;default:0" json:"x1"`
	Y1           float64 `gorm:"column:y1;notNull;default:0" json:"y1"`
	X2           float64 `gorm:"column:x2;notNull;default:0" json:"x2"`
	Y2           float64 `gorm:"column:y2;notNull;default:0" json:"y2"`
}

// TableName database table name
func (*Object) TableName() string {
	return "experiment_objects"
}

// Episode 持久化的交互片段
type Episode struct {
	ID              int64   `gorm:"primaryKey" json:"id"`
	ExperimentID    int64   `gorm:"column:experiment_id;notNull;index" json:"experiment_id"`
	StartFrame      int     `gorm:"column:start_frame;notNull" json:"start_frame"`
	EndFrame        int     `gorm:"column:end_frame;notNull" json:"end_frame"`
	Duration        int     `gorm:"column:duration;notNull" json:"duration"`
	ClassID         int     `gorm:"column:class_id;notNull" json:"class_id"`
	ObjectROI       string  `gorm:"column:object_roi;notNull;default:''" json:"object_roi"`
	DurationSeconds float64 `gorm:"column:duration_seconds;notNull;default:0" json:"duration_seconds"`
}

// TableName database table name
func (*Episode) TableName() string {
	return "experiment_episodes"
}

// Metric 持久化的汇总指标
type Metric struct {
	ID               int64   `gorm:"primaryKey" json:"id"`
	ExperimentID     int64   `gorm:"column:experiment_id;notNull;index" json:"experiment_id"`
	ClassID          int     `gorm:"column:class_id;notNull" json:"class_id"`
	ObjectROI        string  `gorm:"column:object_roi;notNull;default:''" json:"object_roi"`
	TotalEpisodes    int     `gorm:"column:total_episodes;notNull;default:0" json:"total_episodes"`
	SumFrames        int     `gorm:"column:sum_frames;notNull;default:0" json:"sum_frames"`
	TotalTimeSeconds float64 `gorm:"column:total_time_seconds;notNull;default:0" json:"total_time_seconds"`
}

// TableName database table name
func (*Metric) TableName() string {
	return "experiment_metrics"
}

// Clip 导出的片段
type Clip struct {
	ID           int64    `gorm:"primaryKey" json:"id"`
	ExperimentID int64    `gorm:"column:experiment_id;notNull;index" json:"experiment_id"`
	ObjectID     int64    `gorm:"column:object_id;notNull;default:0" json:"object_id"`
	ObjectROI    string   `gorm:"column:object_roi;notNull;default:''" json:"object_roi"`
	Behavior     int      `gorm:"column:behavior;notNull;default:0" json:"behavior"` // 行为类别
	Path         string   `gorm:"column:path;notNull;default:''" json:"path"`
	StartFrame   int      `gorm:"column:start_frame;notNull" json:"start_frame"`
	EndFrame     int      `gorm:"column:end_frame;notNull" json:"end_frame"`
	StartTime    float64  `gorm:"column:start_time;notNull;default:0" json:"start_time"` // 秒
	EndTime      float64  `gorm:"column:end_time;notNull;default:0" json:"end_time"`
	Duration     float64  `gorm:"column:duration;notNull;default:0" json:"duration"`
	Valid        bool     `gorm:"column:valid;notNull" json:"valid"`
	Partial      bool     `gorm:"column:partial;notNull" json:"partial"`
	CreatedAt    orm.Time `gorm:"column:created_at;notNull;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName database table name
func (*Clip) TableName() string {
	return "experiment_clips"
}

// Behavior 行为类别目录
type Behavior struct {
	ID          int64        `gorm:"primaryKey" json:"id"`
	ClassID     int          `gorm:"column:class_id;notNull;uniqueIndex" json:"class_id"`
	Name        string       `gorm:"column:name;notNull;default:''" json:"name"`
	Type        BehaviorType `gorm:"column:type;notNull;default:'OTH'" json:"type"`
	Description string       `gorm:"column:description;notNull;default:''" json:"description"`
}

// TableName database table name
func (*Behavior) TableName() string {
	return "behaviors"
}

// DefaultBehaviors 初始行为目录
func DefaultBehaviors() []Behavior {
	return []Behavior{
		{ClassID: 0, Name: "exploration", Type: BehaviorExploration, Description: "鼻尖靠近或触碰物体"},
		{ClassID: 1, Name: "displacement", Type: BehaviorOther, Description: "推动或移动物体"},
		{ClassID: 2, Name: "grooming", Type: BehaviorOther, Description: "理毛"},
		{ClassID: 3, Name: "rearing", Type: BehaviorExploration, Description: "后肢站立探索"},
	}
}
