// exam 查询同步服务的 gRPC 健康状态
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	addr := flag.String("addr", "localhost:9002", "gRPC 服务地址")
	service := flag.String("service", "", "服务器标签，为空时查询服务本身")
	timeout := flag.Duration("timeout", 5*time.Second, "请求超时时间")
	flag.Parse()

	os.Exit(run(*addr, *service, *timeout))
}

// run 返回进程退出码：0 SERVING，1 请求失败，2 其他状态
func run(addr, service string, timeout time.Duration) int {
	// 连接到服务器
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logx.Errorf("did not connect: %v", err)
		return 1
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := healthpb.NewHealthClient(conn)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		logx.Errorf("健康检查失败: %v", err)
		return 1
	}

	fmt.Printf("%s: %s\n", displayName(service), resp.GetStatus())
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return 2
	}
	return 0
}

func displayName(service string) string {
	if service == "" {
		return "fleet-transfer"
	}
	return service
}
