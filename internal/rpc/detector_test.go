package rpc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// detectorServer 最小实现，将请求参数写入 output_path
type detectorServer struct{}

func (detectorServer) handle(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var in structpb.Struct
	if err := dec(&in); err != nil {
		return nil, err
	}
	m := in.AsMap()
	path, _ := m["output_path"].(string)
	if path == "" {
		return structpb.NewStruct(map[string]any{"ok": false, "error": "output_path is required"})
	}
	if err := os.WriteFile(path, []byte(m["model"].(string)), 0o644); err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"ok": true})
}

func startServer(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := grpc.NewServer()
	var impl detectorServer
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "DetectROIs", Handler: impl.handle},
			{MethodName: "DetectKeypoints", Handler: impl.handle},
		},
	}, impl)
	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)
	return lis.Addr().String()
}

func TestDetectorClient(t *testing.T) {
	addr := startServer(t)
	cli, err := NewDetectorClient(addr, "objects", "pose", 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer cli.Close()

	dir := t.TempDir()
	ctx := context.Background()

	roiPath := filepath.Join(dir, "rois.json")
	if err := cli.DetectROIs(ctx, "video.mp4", roiPath, 20); err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(roiPath); string(b) != "objects" {
		t.Fatalf("roi model = %q", b)
	}

	kpPath := filepath.Join(dir, "predictions.csv")
	if err := cli.DetectKeypoints(ctx, "video.mp4", kpPath); err != nil {
		t.Fatal(err)
	}
	if b, _ := os.ReadFile(kpPath); string(b) != "pose" {
		t.Fatalf("pose model = %q", b)
	}

	if err := cli.DetectKeypoints(ctx, "video.mp4", ""); err == nil {
		t.Fatal("expected business error")
	}
}
