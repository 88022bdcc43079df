package transfer

import (
	"fmt"
	"io"
	"strings"
)

// WriteSummary 输出每台服务器的结果以及总耗时
func WriteSummary(w io.Writer, r *FleetResult) error {
	var b strings.Builder
	for _, s := range r.Servers {
		b.WriteString(s.Describe())
		b.WriteByte('\n')
		for _, task := range s.Failed {
			fmt.Fprintf(&b, "    %s <-> %s\n", task.LocalPath, task.RemotePath)
		}
	}

	workers := 0
	if len(r.Servers) > 0 {
		workers = r.Servers[0].MaxWorkers
	}
	fmt.Fprintf(&b, "All %d servers %s with %d max_workers processed in %.4f seconds.\n",
		len(r.Servers), r.mode(), workers, r.Duration.Seconds())

	_, err := io.WriteString(w, b.String())
	return err
}

func (r *FleetResult) mode() string {
	var mode Direction
	for i, s := range r.Servers {
		if i == 0 {
			mode = s.Direction
		} else if s.Direction != mode {
			return "mixed"
		}
	}
	return string(mode)
}
