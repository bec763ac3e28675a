package conf

import (
	"fmt"
	"time"
)

type Bootstrap struct {
	ConfigPath   string   `toml:"-"`
	BuildVersion string   `toml:"-"`
	Debug        bool     `toml:"debug" comment:"调试模式，输出请求体日志"`
	Server       Server   `toml:"server"`
	Data         Data     `toml:"data"`
	Analysis     Analysis `toml:"analysis"`
	Video        Video    `toml:"video"`
	Detector     Detector `toml:"detector"`
	MQTT         MQTT     `toml:"mqtt"`
	Log          Log      `toml:"log"`
}

type Server struct {
	Debug   bool          `toml:"debug"`
	HTTP    ServerHTTP    `toml:"http"`
	Storage ServerStorage `toml:"storage"`
}

type ServerHTTP struct {
	Port      int      `toml:"port" comment:"对外提供的 http 端口"`
	Timeout   Duration `toml:"timeout" comment:"请求超时时间"`
	JwtSecret string   `toml:"jwt_secret" comment:"jwt 秘钥，非空时接口需要携带 token"`
	PProf     PProf    `toml:"pprof"`
}

type PProf struct {
	Enabled   bool     `toml:"enabled"`
	AccessIps []string `toml:"access_ips"`
}

// ServerStorage 实验视频与分析结果的存储配置
type ServerStorage struct {
	Dir                string  `toml:"dir" comment:"视频与分析结果的存储目录"`
	RetainDays         int     `toml:"retain_days" comment:"分析结果保留天数，0 表示永久保留"`
	DiskUsageThreshold float64 `toml:"disk_usage_threshold" comment:"磁盘使用率阈值(百分比)，超过后清理最旧的实验结果并拒绝导出片段"`
}

type Data struct {
	Database Database `toml:"database"`
}

type Database struct {
	Dsn             string   `toml:"dsn" comment:"postgres://、mysql:// 前缀选择对应驱动，其它视为 sqlite 文件"`
	MaxIdleConns    int32    `toml:"max_idle_conns"`
	MaxOpenConns    int32    `toml:"max_open_conns"`
	ConnMaxLifetime Duration `toml:"conn_max_lifetime"`
	SlowThreshold   Duration `toml:"slow_threshold"`
}

// Analysis 行为分析参数
type Analysis struct {
	Keypoints            []string `toml:"keypoints" comment:"检测表中的关键点名称，每个关键点需要 <name>_x/_y/_v 三列"`
	TrackedKeypoint      string   `toml:"tracked_keypoint" comment:"用于接近判定的关键点"`
	ProximityThreshold   float64  `toml:"proximity_threshold" comment:"class 0 区域的接近距离(像素)"`
	MinInteractionFrames int      `toml:"min_interaction_frames"`
	MaxGapFrames         int      `toml:"max_gap_frames"`
	MaxClassChangeFrames int      `toml:"max_class_change_frames"`
	ExplorationClasses   []int    `toml:"exploration_classes" comment:"参与统计的行为类别"`
	ClipMarginFrames     int      `toml:"clip_margin_frames"`
	ROIFrameIndex        int      `toml:"roi_frame_index" comment:"自动识别物体区域时使用的帧号"`
	MaxRetries           int      `toml:"max_retries"`
	RetryBackoff         Duration `toml:"retry_backoff"`
}

type Video struct {
	Backend string `toml:"backend" comment:"ffmpeg 或 opencv(需要 gocv 编译标签)"`
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
	Codec   string `toml:"codec" comment:"片段编码器，默认 mpeg4"`
	HWAccel string `toml:"hwaccel"`
}

// Detector 外部检测服务(gRPC)
type Detector struct {
	Addr      string   `toml:"addr" comment:"为空时不启用自动识别"`
	ROIModel  string   `toml:"roi_model"`
	PoseModel string   `toml:"pose_model"`
	Timeout   Duration `toml:"timeout"`
}

type MQTT struct {
	Broker      string `toml:"broker" comment:"为空时不发布任务状态"`
	ClientID    string `toml:"client_id"`
	TopicPrefix string `toml:"topic_prefix"`
	QoS         byte   `toml:"qos"`
}

type Log struct {
	Level string `toml:"level"`
}

// Duration 以文本形式(如 "30s")读写的时间间隔
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}
