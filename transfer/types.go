package transfer

import (
	"time"

	"fleet-transfer/transfer/session"
)

// Direction 传输方向
type Direction string

const (
	Download Direction = "download" // 远程 -> 本地
	Upload   Direction = "upload"   // 本地 -> 远程
)

// ServerTarget 一台远程服务器的同步配置，构造后不再修改
type ServerTarget struct {
	Label          string
	Hostname       string
	Port           int
	Credentials    session.Credentials
	KnownHostsFile string
	RemoteRoot     string
	LocalRoot      string
	MaxWorkers     int
	Direction      Direction
}

// Endpoint 转换为会话层使用的连接参数
func (t ServerTarget) Endpoint() session.Endpoint {
	return session.Endpoint{
		Host:           t.Hostname,
		Port:           t.Port,
		Credentials:    t.Credentials,
		KnownHostsFile: t.KnownHostsFile,
	}
}

// RetryPolicy 失败重传策略，由所有服务器共享
type RetryPolicy struct {
	MaxReloadCount int
	InitialDelay   time.Duration
}

const minDelay = time.Millisecond

// TransferTask 一次文件传输，可作为 map 的 key
type TransferTask struct {
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
}

// TransferOutcome 一次传输尝试的结果
type TransferOutcome struct {
	Task TransferTask
	Kind session.ErrorKind
	Err  error
}

func (o TransferOutcome) Success() bool { return o.Err == nil }

// RoundStat 一轮派发的统计，Round 为 0 表示首轮
type RoundStat struct {
	Round     int           `json:"round"`
	Workers   int           `json:"workers"`
	Delay     time.Duration `json:"delay"`
	Attempted int           `json:"attempted"`
	Failed    int           `json:"failed"`
}

// ServerRunResult 单台服务器一次运行的结果
type ServerRunResult struct {
	Label      string         `json:"label"`
	Direction  Direction      `json:"direction"`
	MaxWorkers int            `json:"max_workers"`
	Discovered int            `json:"discovered"`
	Failed     []TransferTask `json:"failed"`
	Retries    int            `json:"retries"`
	Rounds     []RoundStat    `json:"rounds"`
	Err        error          `json:"-"`
	Fatal      string         `json:"error,omitempty"`
	Duration   time.Duration  `json:"duration"`
}

// OK 没有致命错误且所有任务均成功
func (r ServerRunResult) OK() bool {
	return r.Err == nil && len(r.Failed) == 0
}

// FleetResult 一次全量运行的汇总
type FleetResult struct {
	RunID     string            `json:"run_id"`
	StartedAt time.Time         `json:"started_at"`
	Duration  time.Duration     `json:"duration"`
	Servers   []ServerRunResult `json:"servers"`
}

// FailedServers 返回因致命错误中止的服务器数量
func (r *FleetResult) FailedServers() int {
	n := 0
	for _, s := range r.Servers {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// FailedTasks 返回重传结束后仍失败的任务数量
func (r *FleetResult) FailedTasks() int {
	n := 0
	for _, s := range r.Servers {
		n += len(s.Failed)
	}
	return n
}
