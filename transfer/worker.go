package transfer

import (
	"context"
	"fmt"
	"time"

	"fleet-transfer/transfer/session"
)

// ChannelOpener 能够打开文件通道的对象，session.Session 满足该接口
type ChannelOpener interface {
	OpenChannel() (session.Channel, error)
}

// RunTask 打开独占通道执行一次传输，结束后无论成功与否都关闭通道。
// timeout 大于 0 时，超时立即返回 KindTimeout，通道在后台关闭；
// 远端无响应时关闭可能一直阻塞，未完成的传输随会话关闭而结束。
func RunTask(opener ChannelOpener, dir Direction, task TransferTask, timeout time.Duration) TransferOutcome {
	ch, err := opener.OpenChannel()
	if err != nil {
		return failed(task, err)
	}

	if timeout <= 0 {
		defer ch.Close()
		return outcome(task, execute(ch, dir, task))
	}

	done := make(chan error, 1)
	go func() {
		done <- execute(ch, dir, task)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		ch.Close()
		return outcome(task, err)
	case <-timer.C:
		go ch.Close()
		return TransferOutcome{
			Task: task,
			Kind: session.KindTimeout,
			Err:  fmt.Errorf("传输超过 %v 未完成: %w", timeout, context.DeadlineExceeded),
		}
	}
}

func execute(ch session.Channel, dir Direction, task TransferTask) error {
	switch dir {
	case Download:
		return ch.Fetch(task.RemotePath, task.LocalPath)
	case Upload:
		return ch.Store(task.LocalPath, task.RemotePath)
	default:
		return fmt.Errorf("未知的传输方向 %q", dir)
	}
}

func outcome(task TransferTask, err error) TransferOutcome {
	if err != nil {
		return failed(task, err)
	}
	return TransferOutcome{Task: task}
}

func failed(task TransferTask, err error) TransferOutcome {
	return TransferOutcome{Task: task, Kind: session.KindOf(err), Err: err}
}
