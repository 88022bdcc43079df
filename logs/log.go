package logs

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/zeromicro/go-zero/core/logx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"

	msgTransfer = "transfer"
	msgServer   = "server"
)

// AuditLog 传输审计日志，每次传输尝试和每台服务器的结束各记录一条 JSON。
// nil 的 *AuditLog 可以安全调用，不做任何记录。
type AuditLog struct {
	sugar *zap.SugaredLogger
}

// Rotation 审计日志文件的滚动参数
type Rotation struct {
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// DefaultRotation 与操作日志保持一致的默认滚动参数
var DefaultRotation = Rotation{MaxSize: 10, MaxBackups: 5, MaxAge: 60}

// NewAuditLog 创建写入 path 的审计日志
func NewAuditLog(path string, level zapcore.Level, rotation Rotation) *AuditLog {
	fileLogger := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSize,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAge,
		Compress:   rotation.Compress,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	core := zapcore.NewCore(encoder, zapcore.AddSync(fileLogger), level)

	// 审计记录不需要调用信息和堆栈信息
	return NewAuditLogWithCore(core)
}

// NewAuditLogWithCore 使用指定的 zapcore.Core 创建审计日志
func NewAuditLogWithCore(core zapcore.Core) *AuditLog {
	return &AuditLog{sugar: zap.New(core).Sugar()}
}

// TaskEntry 一次传输尝试
type TaskEntry struct {
	RunID  string
	Server string
	Round  int
	Local  string
	Remote string
	Kind   string
	Err    error
}

// ServerEntry 一台服务器的运行结果
type ServerEntry struct {
	RunID      string
	Server     string
	Discovered int
	Failed     int
	Retries    int
	Err        error
}

func (a *AuditLog) TaskOutcome(e TaskEntry) {
	if a == nil {
		return
	}
	kv := []any{
		"run_id", e.RunID,
		"server", e.Server,
		"round", e.Round,
		"local", e.Local,
		"remote", e.Remote,
	}
	if e.Err != nil {
		a.sugar.Warnw(msgTransfer, append(kv, "status", StatusFailed, "kind", e.Kind, "detail", e.Err.Error())...)
		return
	}
	a.sugar.Infow(msgTransfer, append(kv, "status", StatusSuccess)...)
}

func (a *AuditLog) ServerDone(e ServerEntry) {
	if a == nil {
		return
	}
	kv := []any{
		"run_id", e.RunID,
		"server", e.Server,
		"discovered", e.Discovered,
		"remaining", e.Failed,
		"retries", e.Retries,
	}
	if e.Err != nil {
		a.sugar.Errorw(msgServer, append(kv, "status", StatusFailed, "detail", e.Err.Error())...)
		return
	}
	status := StatusSuccess
	if e.Failed > 0 {
		status = StatusFailed
	}
	a.sugar.Infow(msgServer, append(kv, "status", status)...)
}

func (a *AuditLog) Sync() error {
	if a == nil {
		return nil
	}
	return a.sugar.Sync()
}

type Log struct {
	Level     string `json:"level"`
	Timestamp string `json:"ts"`
	Msg       string `json:"msg"`
	RunID     string `json:"run_id"`
	Server    string `json:"server"`
	Round     int    `json:"round,omitempty"`
	Local     string `json:"local,omitempty"`
	Remote    string `json:"remote,omitempty"`
	Status    string `json:"status"`
	Kind      string `json:"kind,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type LogRequest struct {
	Server   string `json:"server" form:"server"`
	RunID    string `json:"run_id" form:"run_id"`
	Status   string `json:"status" form:"status"`
	Msg      string `json:"msg" form:"msg"` // transfer/server
	FromTime string `json:"fromTime" form:"fromTime"`
	ToTime   string `json:"toTime" form:"toTime"`
}

// 过滤日志的核心逻辑
func FilterLogs(scanner *bufio.Scanner, req LogRequest) []Log {
	var logs []Log

	for scanner.Scan() {
		var _log Log
		if err := json.Unmarshal(scanner.Bytes(), &_log); err != nil {
			logx.Errorf("解析日志失败：%v", err)
			continue
		}

		if req.Server != "" && _log.Server != req.Server {
			continue
		}
		if req.RunID != "" && _log.RunID != req.RunID {
			continue
		}
		if req.Status != "" && _log.Status != req.Status {
			continue
		}
		if req.Msg != "" && _log.Msg != req.Msg {
			continue
		}

		// 时间范围筛选，ISO8601 字符串可直接比较
		if (req.FromTime == "" || _log.Timestamp >= req.FromTime) &&
			(req.ToTime == "" || _log.Timestamp <= req.ToTime) {
			logs = append(logs, _log)
		}
	}

	return logs
}

// ReadLogs 读取审计日志文件并按条件过滤
func ReadLogs(path string, req LogRequest) ([]Log, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	logs := FilterLogs(scanner, req)
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
