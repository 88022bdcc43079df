package grpcserver

import (
	"net"

	"fleet-transfer/transfer"

	"github.com/zeromicro/go-zero/core/logx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server 通过 gRPC 健康检查协议发布每台服务器最近一次同步的状态。
// 服务名为空串表示控制面本身，服务名为服务器标签表示该服务器。
type Server struct {
	health *health.Server
	grpc   *grpc.Server
}

func NewServer() *Server {
	s := &Server{
		health: health.NewServer(),
		grpc:   grpc.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s
}

// Update 根据运行结果设置每台服务器的状态，全部任务成功为 SERVING，否则为 NOT_SERVING
func (s *Server) Update(result *transfer.FleetResult) {
	for _, srv := range result.Servers {
		status := healthpb.HealthCheckResponse_SERVING
		if !srv.OK() {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(srv.Label, status)
	}
}

// Serve 在 lis 上提供服务，直到 Stop 被调用
func (s *Server) Serve(lis net.Listener) error {
	logx.Infof("gRPC 服务正在监听：%s", lis.Addr())
	return s.grpc.Serve(lis)
}

// ListenAndServe 监听 addr 并提供服务
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Stop 把所有状态置为 NOT_SERVING 并停止服务
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
