package conf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultConfig 默认配置，分析参数与原有服务保持一致
func DefaultConfig() Bootstrap {
	return Bootstrap{
		Server: Server{
			HTTP: ServerHTTP{
				Port:    15123,
				Timeout: Duration(60 * time.Second),
			},
			Storage: ServerStorage{
				Dir:                "./experiments",
				RetainDays:         30,
				DiskUsageThreshold: 95,
			},
		},
		Data: Data{
			Database: Database{
				Dsn:             "./configs/data.db",
				MaxIdleConns:    10,
				MaxOpenConns:    50,
				ConnMaxLifetime: Duration(6 * time.Hour),
				SlowThreshold:   Duration(200 * time.Millisecond),
			},
		},
		Analysis: Analysis{
			Keypoints:            []string{"head", "nose", "ear_left", "ear_right", "neck", "tail_base"},
			TrackedKeypoint:      "nose",
			ProximityThreshold:   40,
			MinInteractionFrames: 4,
			MaxGapFrames:         20,
			MaxClassChangeFrames: 6,
			ExplorationClasses:   []int{0},
			ClipMarginFrames:     10,
			ROIFrameIndex:        20,
			MaxRetries:           3,
			RetryBackoff:         Duration(60 * time.Second),
		},
		Video: Video{
			Backend: "ffmpeg",
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
			Codec:   "mpeg4",
		},
		Detector: Detector{
			ROIModel:  "objects",
			PoseModel: "pose",
			Timeout:   Duration(30 * time.Minute),
		},
		MQTT: MQTT{
			ClientID:    "nora",
			TopicPrefix: "nora",
			QoS:         1,
		},
		Log: Log{Level: "info"},
	}
}

// SetupConfig 读取配置文件，文件不存在时写入默认配置
func SetupConfig(path string) (Bootstrap, error) {
	cfg := DefaultConfig()
	cfg.ConfigPath = path

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, WriteConfig(&cfg, path)
	}
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	return cfg, nil
}

// WriteConfig 将配置写回文件
func WriteConfig(cfg *Bootstrap, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
