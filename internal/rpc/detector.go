package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowvp/nora/internal/core/pipeline"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName           = "nora.detector.v1.Detector"
	methodDetectROIs      = "/" + serviceName + "/DetectROIs"
	methodDetectKeypoints = "/" + serviceName + "/DetectKeypoints"
)

var _ pipeline.Detector = (*DetectorClient)(nil)

// DetectorClient 封装外部检测服务(物体区域识别与姿态估计)
// 请求与响应均为 google.protobuf.Struct，检测结果由服务端写入 output_path
type DetectorClient struct {
	conn      *grpc.ClientConn
	roiModel  string
	poseModel string
	timeout   time.Duration
	// MaxObjects 自动识别时每个视频保留的物体数量
	MaxObjects int
}

// NewDetectorClient 创建检测客户端，连接后异步做一次健康检查
func NewDetectorClient(addr, roiModel, poseModel string, timeout time.Duration) (*DetectorClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect detector %s: %w", addr, err)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
		if err != nil {
			slog.Error("detector HealthCheck", "addr", addr, "err", err)
			return
		}
		if resp.GetStatus() == healthpb.HealthCheckResponse_SERVING {
			slog.Info("detector HealthCheck OK", "addr", addr)
		} else {
			slog.Error("detector HealthCheck", "addr", addr, "status", resp.GetStatus().String())
		}
	}()

	return &DetectorClient{
		conn:       conn,
		roiModel:   roiModel,
		poseModel:  poseModel,
		timeout:    timeout,
		MaxObjects: 2,
	}, nil
}

func (d *DetectorClient) Close() error {
	return d.conn.Close()
}

// DetectROIs implements [pipeline.Detector].
// 每个类别保留置信度最高的一个检测，最多 MaxObjects 个
func (d *DetectorClient) DetectROIs(ctx context.Context, videoPath, outputPath string, frame int) error {
	return d.invoke(ctx, methodDetectROIs, map[string]any{
		"video_path":  videoPath,
		"output_path": outputPath,
		"frame_index": frame,
		"model":       d.roiModel,
		"max_objects": d.MaxObjects,
	})
}

// DetectKeypoints implements [pipeline.Detector].
func (d *DetectorClient) DetectKeypoints(ctx context.Context, videoPath, outputPath string) error {
	return d.invoke(ctx, methodDetectKeypoints, map[string]any{
		"video_path":  videoPath,
		"output_path": outputPath,
		"model":       d.poseModel,
	})
}

func (d *DetectorClient) invoke(ctx context.Context, method string, fields map[string]any) error {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var resp structpb.Struct
	if err := d.conn.Invoke(ctx, method, req, &resp); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return checkResponse(&resp)
}

// checkResponse 服务端以 {"ok": false, "error": "..."} 表示业务失败
func checkResponse(resp *structpb.Struct) error {
	m := resp.AsMap()
	if ok, exist := m["ok"].(bool); exist && !ok {
		msg, _ := m["error"].(string)
		return fmt.Errorf("detector: %s", msg)
	}
	return nil
}
