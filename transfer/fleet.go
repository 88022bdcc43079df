package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleet-transfer/logs"
	"fleet-transfer/transfer/session"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"
)

var errAborted = errors.New("服务器同步异常中止")

// Fleet 为每台服务器并发运行一个 Orchestrator，单台失败不影响其他服务器
type Fleet struct {
	Targets     []ServerTarget
	Policy      RetryPolicy
	Dialer      session.Dialer
	Selector    Selector
	TaskTimeout time.Duration
	Audit       *logs.AuditLog
}

// Run 运行全部服务器并等待结束。runID 为空时自动生成。
func (f *Fleet) Run(ctx context.Context, runID string) *FleetResult {
	if runID == "" {
		runID = uuid.NewString()
	}
	result := &FleetResult{
		RunID:     runID,
		StartedAt: time.Now(),
		Servers:   make([]ServerRunResult, len(f.Targets)),
	}
	logger := logx.WithContext(ctx).WithFields(logx.Field("run_id", runID))
	logger.Infow("开始同步", logx.Field("servers", len(f.Targets)))

	// 每个 goroutine 只写自己的下标，不需要加锁
	group := threading.NewRoutineGroup()
	for i, target := range f.Targets {
		result.Servers[i] = ServerRunResult{
			Label:      target.Label,
			Direction:  target.Direction,
			MaxWorkers: target.MaxWorkers,
			Err:        errAborted,
			Fatal:      errAborted.Error(),
		}
		group.RunSafe(func() {
			result.Servers[i] = f.runServer(ctx, runID, target, logger)
		})
	}
	group.Wait()

	result.Duration = time.Since(result.StartedAt)
	logger.WithDuration(result.Duration).Infow("同步结束",
		logx.Field("failed_servers", result.FailedServers()),
		logx.Field("failed_tasks", result.FailedTasks()))
	return result
}

func (f *Fleet) runServer(ctx context.Context, runID string, target ServerTarget, logger logx.Logger) ServerRunResult {
	orch := &Orchestrator{
		Target:      target,
		Policy:      f.Policy,
		Dialer:      f.Dialer,
		Selector:    f.Selector,
		TaskTimeout: f.TaskTimeout,
		RunID:       runID,
		Logger:      logger.WithFields(logx.Field("server", target.Label)),
		Audit:       f.Audit,
	}

	res, err := orch.Run(ctx)
	if res == nil {
		res = &ServerRunResult{Label: target.Label, Direction: target.Direction, MaxWorkers: target.MaxWorkers}
	}
	if err != nil {
		res.Err = err
		res.Fatal = err.Error()
		orch.Logger.Errorf("服务器同步失败: %v", err)
	}
	f.Audit.ServerDone(logs.ServerEntry{
		RunID:      runID,
		Server:     target.Label,
		Discovered: res.Discovered,
		Failed:     len(res.Failed),
		Retries:    res.Retries,
		Err:        err,
	})
	return *res
}

// Describe 返回单台服务器结果的一行描述
func (r ServerRunResult) Describe() string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("[%s] 失败: %v", r.Label, r.Err)
	case len(r.Failed) > 0:
		return fmt.Sprintf("[%s] 部分失败: 共 %d 个文件, %d 个重传后仍失败, 重传 %d 轮",
			r.Label, r.Discovered, len(r.Failed), r.Retries)
	default:
		return fmt.Sprintf("[%s] 成功: 共 %d 个文件, 重传 %d 轮", r.Label, r.Discovered, r.Retries)
	}
}
