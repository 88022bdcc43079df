package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fleet-transfer/logs"
	"fleet-transfer/transfer/session"

	"github.com/zeromicro/go-zero/core/logx"
)

var ErrNoSession = errors.New("no session")

// Orchestrator 负责单台服务器的一次完整运行：
// 建立会话、检查目标目录、发现任务、并发传输以及失败重传。
type Orchestrator struct {
	Target      ServerTarget
	Policy      RetryPolicy
	Dialer      session.Dialer
	Selector    Selector
	TaskTimeout time.Duration
	RunID       string
	Logger      logx.Logger
	Audit       *logs.AuditLog

	// sleep 退避等待，测试中可替换
	sleep func(ctx context.Context, d time.Duration) error
}

// Run 执行同步。目标目录检查或列目录失败时返回错误，单个任务的失败只体现在结果中。
func (o *Orchestrator) Run(ctx context.Context) (*ServerRunResult, error) {
	start := time.Now()
	logger := o.logger()
	result := &ServerRunResult{Label: o.Target.Label, Direction: o.Target.Direction, MaxWorkers: o.Target.MaxWorkers}
	defer func() { result.Duration = time.Since(start) }()

	// 一台服务器只建立一次会话，所有任务和重传轮次共用
	sess, err := o.Dialer.Dial(ctx, o.Target.Endpoint())
	if err != nil {
		return result, fmt.Errorf("连接服务器 %s 失败: %w", o.Target.Label, err)
	}
	if sess == nil {
		return result, ErrNoSession
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Errorf("关闭会话失败: %v", err)
		}
	}()

	tasks, err := o.prepare(sess)
	if err != nil {
		return result, fmt.Errorf("服务器 %s: %w", o.Target.Label, err)
	}
	result.Discovered = len(tasks)
	logger.Infow("任务发现完成", logx.Field("tasks", len(tasks)))
	if len(tasks) == 0 {
		return result, nil
	}

	workers := max(o.Target.MaxWorkers, 1)
	delay := max(o.Policy.InitialDelay, minDelay)

	pending := o.round(sess, 0, tasks, workers, 0, result)

	for len(pending) > 0 && result.Retries < o.Policy.MaxReloadCount {
		if err := o.wait(ctx, delay); err != nil {
			logger.Infof("运行被取消，停止重传: %v", err)
			break
		}
		waited := delay
		delay = nextDelay(delay)
		workers = nextWorkers(workers)
		result.Retries++
		pending = o.round(sess, result.Retries, pending, workers, waited, result)
	}

	result.Failed = pending
	logger.Infow("服务器同步结束",
		logx.Field("failed", len(pending)),
		logx.Field("retries", result.Retries))
	return result, nil
}

// prepare 打开一个临时通道完成目录检查和任务发现
func (o *Orchestrator) prepare(sess session.Session) ([]TransferTask, error) {
	ch, err := sess.OpenChannel()
	if err != nil {
		return nil, fmt.Errorf("打开文件通道失败: %w", err)
	}
	defer ch.Close()

	if err := EnsureDestination(ch, o.Target); err != nil {
		return nil, err
	}
	return Discover(ch, o.Target, o.Selector)
}

// round 派发一轮任务并返回本轮仍失败的任务
func (o *Orchestrator) round(opener ChannelOpener, n int, tasks []TransferTask, workers int, delay time.Duration, result *ServerRunResult) []TransferTask {
	logger := o.logger().WithFields(logx.Field("round", n))
	logger.Infow("开始派发", logx.Field("tasks", len(tasks)), logx.Field("workers", workers))

	outcomes := dispatch(opener, o.Target.Direction, tasks, workers, o.TaskTimeout)
	for _, out := range outcomes {
		o.report(logger, n, out)
	}

	pending := remaining(tasks, outcomes)
	result.Rounds = append(result.Rounds, RoundStat{
		Round:     n,
		Workers:   workers,
		Delay:     delay,
		Attempted: len(tasks),
		Failed:    len(pending),
	})
	logger.Infow("本轮结束", logx.Field("failed", len(pending)))
	return pending
}

func (o *Orchestrator) report(logger logx.Logger, n int, out TransferOutcome) {
	fields := []logx.LogField{
		logx.Field("local", out.Task.LocalPath),
		logx.Field("remote", out.Task.RemotePath),
	}
	if out.Success() {
		logger.Infow("传输成功", fields...)
	} else {
		logger.Errorw("传输失败", append(fields, logx.Field("kind", string(out.Kind)), logx.Field("error", out.Err.Error()))...)
	}
	o.Audit.TaskOutcome(logs.TaskEntry{
		RunID:  o.RunID,
		Server: o.Target.Label,
		Round:  n,
		Local:  out.Task.LocalPath,
		Remote: out.Task.RemotePath,
		Kind:   string(out.Kind),
		Err:    out.Err,
	})
}

func (o *Orchestrator) wait(ctx context.Context, d time.Duration) error {
	if o.sleep != nil {
		return o.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) logger() logx.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logx.WithContext(context.Background()).WithFields(logx.Field("server", o.Target.Label))
}

// dispatch 以 workers 为上限并发执行任务，按完成顺序收集结果。
// 所有任务结束后才返回，调用方拿到的是一个不再变化的结果集合。
func dispatch(opener ChannelOpener, dir Direction, tasks []TransferTask, workers int, timeout time.Duration) []TransferOutcome {
	sem := make(chan struct{}, max(workers, 1))
	results := make(chan TransferOutcome, len(tasks))

	var wg sync.WaitGroup
	for _, task := range tasks {
		sem <- struct{}{}
		wg.Add(1)
		go func(task TransferTask) {
			defer func() {
				<-sem
				wg.Done()
			}()
			results <- RunTask(opener, dir, task, timeout)
		}(task)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]TransferOutcome, 0, len(tasks))
	for out := range results {
		outcomes = append(outcomes, out)
	}
	return outcomes
}

// remaining 根据本轮结果计算下一轮的失败集合，保持原任务顺序
func remaining(tasks []TransferTask, outcomes []TransferOutcome) []TransferTask {
	failedSet := make(map[TransferTask]bool, len(outcomes))
	for _, out := range outcomes {
		if !out.Success() {
			failedSet[out.Task] = true
		}
	}

	var pending []TransferTask
	for _, task := range tasks {
		if failedSet[task] {
			pending = append(pending, task)
			delete(failedSet, task)
		}
	}
	return pending
}

// nextWorkers 每轮重传并发数减半，最小为 1
func nextWorkers(n int) int {
	return max(n/2, 1)
}

// nextDelay 每轮退避时间翻倍
func nextDelay(d time.Duration) time.Duration {
	return 2 * d
}
