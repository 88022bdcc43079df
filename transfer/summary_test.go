package transfer

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSummary(t *testing.T) {
	result := &FleetResult{
		Duration: 1500 * time.Millisecond,
		Servers: []ServerRunResult{
			{Label: "web-1", Direction: Download, MaxWorkers: 5, Discovered: 2},
			{Label: "web-2", Direction: Download, MaxWorkers: 5, Discovered: 2, Retries: 3,
				Failed: []TransferTask{{LocalPath: "/l/b.py", RemotePath: "/r/b.py"}}},
			{Label: "web-3", Direction: Download, MaxWorkers: 5, Err: errors.New("dial timeout")},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, result))
	out := buf.String()

	assert.Contains(t, out, "[web-1] 成功")
	assert.Contains(t, out, "[web-2] 部分失败")
	assert.Contains(t, out, "/l/b.py <-> /r/b.py")
	assert.Contains(t, out, "[web-3] 失败: dial timeout")
	assert.Contains(t, out, "All 3 servers download with 5 max_workers processed in 1.5000 seconds.\n")
}

func TestWriteSummary_MixedDirections(t *testing.T) {
	result := &FleetResult{Servers: []ServerRunResult{
		{Label: "a", Direction: Download, MaxWorkers: 2},
		{Label: "b", Direction: Upload, MaxWorkers: 2},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, result))
	assert.Contains(t, buf.String(), "All 2 servers mixed with 2 max_workers")
}
