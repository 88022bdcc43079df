// Package control 负责触发和串行化同步运行，并通过 HTTP 暴露运行状态
package control

import (
	"context"
	"errors"
	"sync"

	"fleet-transfer/config"
	"fleet-transfer/logs"
	"fleet-transfer/transfer"
	"fleet-transfer/transfer/session"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"
)

var ErrRunInProgress = errors.New("已有同步任务在运行")

// StatusSink 接收每次运行结束后的结果
type StatusSink interface {
	Update(result *transfer.FleetResult)
}

// NewFleet 根据配置构造 Fleet
func NewFleet(cfg *config.Config, dialer session.Dialer, audit *logs.AuditLog) *transfer.Fleet {
	return &transfer.Fleet{
		Targets:     cfg.Targets(),
		Policy:      cfg.Policy(),
		Dialer:      dialer,
		Selector:    cfg.Selector(),
		TaskTimeout: cfg.TaskTimeout(),
		Audit:       audit,
	}
}

// Runner 保证同一时刻只有一次运行，并保存最近一次结果
type Runner struct {
	fleet *transfer.Fleet
	sinks []StatusSink

	mu      sync.Mutex
	running bool
	current string
	latest  *transfer.FleetResult
	wg      sync.WaitGroup
}

func NewRunner(fleet *transfer.Fleet, sinks ...StatusSink) *Runner {
	return &Runner{fleet: fleet, sinks: sinks}
}

// Run 同步执行一次运行
func (r *Runner) Run(ctx context.Context) (*transfer.FleetResult, error) {
	runID, err := r.acquire()
	if err != nil {
		return nil, err
	}
	defer r.release()
	return r.execute(ctx, runID), nil
}

// Start 在后台启动一次运行并立即返回 run id
func (r *Runner) Start(ctx context.Context) (string, error) {
	runID, err := r.acquire()
	if err != nil {
		return "", err
	}

	r.wg.Add(1)
	threading.GoSafe(func() {
		defer r.wg.Done()
		defer r.release()
		r.execute(ctx, runID)
	})
	return runID, nil
}

// Wait 等待后台运行结束
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Latest 返回最近一次完成的运行结果，尚未运行过时为 nil
func (r *Runner) Latest() *transfer.FleetResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Current 返回正在运行的 run id
func (r *Runner) Current() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.running
}

func (r *Runner) acquire() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return "", ErrRunInProgress
	}
	r.running = true
	r.current = uuid.NewString()
	return r.current, nil
}

func (r *Runner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	r.current = ""
}

func (r *Runner) execute(ctx context.Context, runID string) *transfer.FleetResult {
	result := r.fleet.Run(ctx, runID)

	r.mu.Lock()
	r.latest = result
	r.mu.Unlock()

	for _, sink := range r.sinks {
		sink.Update(result)
	}
	if err := r.fleet.Audit.Sync(); err != nil {
		logx.Errorf("审计日志刷新失败: %v", err)
	}
	return result
}
