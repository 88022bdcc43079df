package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleet-transfer/config"
	"fleet-transfer/control"
	grpcserver "fleet-transfer/grpc"
	"fleet-transfer/logs"
	"fleet-transfer/middlewire"
	"fleet-transfer/transfer"
	"fleet-transfer/transfer/session"

	"github.com/zeromicro/go-zero/core/logx"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("c", "", "配置文件路径，默认使用 config/config/config.yaml")
	serve := flag.Bool("serve", false, "启动控制面（HTTP + gRPC），由接口触发同步")
	tokenUser := flag.String("token", "", "为指定用户生成控制面 token 后退出")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logx.Errorf("加载配置失败：%v", err)
		os.Exit(1)
	}

	config.SetupLogx(cfg)
	defer logx.Close()

	if *tokenUser != "" {
		if err := printToken(cfg, *tokenUser); err != nil {
			logx.Errorf("生成 token 失败：%v", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audit, err := newAuditLog(cfg)
	if err != nil {
		logx.Errorf("初始化审计日志失败：%v", err)
		os.Exit(1)
	}
	defer audit.Sync()

	fileMode, _ := cfg.FileMode()
	dialer := session.NewDialer()
	dialer.FileMode = fileMode
	fleet := control.NewFleet(cfg, dialer, audit)

	if *serve {
		if err := runControlPlane(ctx, cfg, fleet); err != nil {
			logx.Errorf("控制面异常退出：%v", err)
			os.Exit(1)
		}
		return
	}

	result, err := control.NewRunner(fleet).Run(ctx)
	if err != nil {
		logx.Errorf("同步失败：%v", err)
		os.Exit(1)
	}
	// 部分失败只体现在汇总中，退出码仍为 0
	if err := transfer.WriteSummary(os.Stdout, result); err != nil {
		logx.Errorf("输出汇总失败：%v", err)
	}
}

func newAuditLog(cfg *config.Config) (*logs.AuditLog, error) {
	if cfg.Audit.Path == "" {
		return nil, nil
	}
	level, err := zapcore.ParseLevel(cfg.AuditLevel())
	if err != nil {
		return nil, err
	}

	rotation := logs.DefaultRotation
	if cfg.Audit.MaxSize > 0 {
		rotation.MaxSize = cfg.Audit.MaxSize
	}
	if cfg.Audit.MaxBackups > 0 {
		rotation.MaxBackups = cfg.Audit.MaxBackups
	}
	if cfg.Audit.MaxAge > 0 {
		rotation.MaxAge = cfg.Audit.MaxAge
	}
	rotation.Compress = cfg.Audit.Compress
	return logs.NewAuditLog(cfg.Audit.Path, level, rotation), nil
}

func printToken(cfg *config.Config, username string) error {
	if cfg.Control.JWTSecret == "" {
		return errors.New("未配置 Control.JWTSecret")
	}
	token, err := middlewire.GenerateToken([]byte(cfg.Control.JWTSecret), username)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runControlPlane(ctx context.Context, cfg *config.Config, fleet *transfer.Fleet) error {
	if cfg.Control.HTTPAddr == "" || cfg.Control.JWTSecret == "" {
		return errors.New("控制面需要配置 Control.HTTPAddr 和 Control.JWTSecret")
	}

	var sinks []control.StatusSink
	var grpcServer *grpcserver.Server
	if cfg.Control.GRPCAddr != "" {
		grpcServer = grpcserver.NewServer()
		sinks = append(sinks, grpcServer)
	}
	runner := control.NewRunner(fleet, sinks...)
	api := control.NewAPI(ctx, runner, cfg.Audit.Path)

	httpServer := &http.Server{
		Addr:    cfg.Control.HTTPAddr,
		Handler: api.Router([]byte(cfg.Control.JWTSecret)),
	}

	errCh := make(chan error, 2)
	go func() {
		logx.Infof("HTTP 服务正在监听：%s", cfg.Control.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if grpcServer != nil {
		// 启动 gRPC 服务
		go func() {
			if err := grpcServer.ListenAndServe(cfg.Control.GRPCAddr); err != nil {
				errCh <- err
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		logx.Info("收到退出信号，停止控制面")
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		logx.Errorf("关闭 HTTP 服务失败：%v", shutdownErr)
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	runner.Wait()
	return err
}
