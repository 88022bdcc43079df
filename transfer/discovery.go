package transfer

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"fleet-transfer/transfer/session"
)

// Selector 判断文件名是否需要传输
type Selector func(name string) bool

// DefaultSelector 选择 Python 源文件
var DefaultSelector = ContainsAny(".py")

// ContainsAny 文件名包含任一子串即选中
func ContainsAny(subs ...string) Selector {
	return func(name string) bool {
		for _, s := range subs {
			if strings.Contains(name, s) {
				return true
			}
		}
		return false
	}
}

// MatchGlob 文件名匹配任一 glob 模式即选中，非法模式视为不匹配
func MatchGlob(patterns ...string) Selector {
	return func(name string) bool {
		for _, p := range patterns {
			if ok, err := path.Match(p, name); err == nil && ok {
				return true
			}
		}
		return false
	}
}

// Any 任一选择器选中即选中
func Any(selectors ...Selector) Selector {
	return func(name string) bool {
		for _, sel := range selectors {
			if sel != nil && sel(name) {
				return true
			}
		}
		return false
	}
}

// EnsureDestination 确保目标目录存在。
// 下载时创建本地目录；上传时先列出远程目录，仅在 not found 时创建，其他错误直接返回。
func EnsureDestination(ch session.Channel, target ServerTarget) error {
	switch target.Direction {
	case Download:
		if err := os.MkdirAll(target.LocalRoot, 0o755); err != nil {
			return fmt.Errorf("创建本地目录 %s 失败: %w", target.LocalRoot, err)
		}
		return nil
	case Upload:
		_, err := ch.List(target.RemoteRoot)
		if err == nil {
			return nil
		}
		if session.KindOf(err) != session.KindNotFound {
			return fmt.Errorf("访问远程目录 %s 失败: %w", target.RemoteRoot, err)
		}
		if err := ch.MakeDir(target.RemoteRoot); err != nil {
			return fmt.Errorf("创建远程目录 %s 失败: %w", target.RemoteRoot, err)
		}
		return nil
	default:
		return fmt.Errorf("未知的传输方向 %q", target.Direction)
	}
}

// Discover 列出源端文件并生成任务列表，顺序与列表顺序一致
func Discover(ch session.Channel, target ServerTarget, sel Selector) ([]TransferTask, error) {
	if sel == nil {
		sel = DefaultSelector
	}

	var names []string
	switch target.Direction {
	case Download:
		remote, err := ch.List(target.RemoteRoot)
		if err != nil {
			return nil, fmt.Errorf("列出远程目录 %s 失败: %w", target.RemoteRoot, err)
		}
		names = remote
	case Upload:
		entries, err := os.ReadDir(target.LocalRoot)
		if err != nil {
			return nil, fmt.Errorf("列出本地目录 %s 失败: %w", target.LocalRoot, err)
		}
		for _, entry := range entries {
			if entry.Type().IsRegular() {
				names = append(names, entry.Name())
			}
		}
	default:
		return nil, fmt.Errorf("未知的传输方向 %q", target.Direction)
	}

	var tasks []TransferTask
	for _, name := range names {
		if !sel(name) {
			continue
		}
		tasks = append(tasks, TransferTask{
			LocalPath:  filepath.Join(target.LocalRoot, name),
			RemotePath: path.Join(target.RemoteRoot, name),
		})
	}
	return tasks, nil
}
