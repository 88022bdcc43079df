package session

import (
	"net"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMemChannel 返回连接到内存 SFTP 服务器的通道
func newMemChannel(t *testing.T) (Channel, *sftp.Client) {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	server := sftp.NewRequestServer(serverConn, sftp.InMemHandler())
	go server.Serve()
	t.Cleanup(func() { server.Close() })

	client, err := sftp.NewClientPipe(clientConn, clientConn)
	require.NoError(t, err)

	return NewChannel(client, 0), client
}

func writeRemote(t *testing.T, client *sftp.Client, path, content string) {
	t.Helper()
	f, err := client.Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestChannel_MakeDirAndList(t *testing.T) {
	ch, client := newMemChannel(t)
	defer ch.Close()

	require.NoError(t, ch.MakeDir("/srv/code"))
	writeRemote(t, client, "/srv/code/a.py", "print(1)")
	writeRemote(t, client, "/srv/code/b.txt", "hello")

	names, err := ch.List("/srv/code")
	require.NoError(t, err)
	sort.Strings(names)
	assert.Equal(t, []string{"a.py", "b.txt"}, names)
}

func TestChannel_ListMissingDirIsNotFound(t *testing.T) {
	ch, _ := newMemChannel(t)
	defer ch.Close()

	_, err := ch.List("/does/not/exist")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestChannel_StoreThenFetch(t *testing.T) {
	ch, client := newMemChannel(t)
	defer ch.Close()

	dir := t.TempDir()
	local := filepath.Join(dir, "main.py")
	require.NoError(t, os.WriteFile(local, []byte("import os\n"), 0o644))
	require.NoError(t, ch.MakeDir("/up"))

	require.NoError(t, ch.Store(local, "/up/main.py"))

	info, err := client.Stat("/up/main.py")
	require.NoError(t, err)
	assert.EqualValues(t, len("import os\n"), info.Size())

	back := filepath.Join(dir, "back.py")
	require.NoError(t, ch.Fetch("/up/main.py", back))
	got, err := os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, "import os\n", string(got))
}

func TestChannel_FetchOverwritesExisting(t *testing.T) {
	ch, client := newMemChannel(t)
	defer ch.Close()

	require.NoError(t, ch.MakeDir("/src"))
	writeRemote(t, client, "/src/a.py", "new")

	local := filepath.Join(t.TempDir(), "a.py")
	require.NoError(t, os.WriteFile(local, []byte("old content that is longer"), 0o644))

	require.NoError(t, ch.Fetch("/src/a.py", local))
	require.NoError(t, ch.Fetch("/src/a.py", local))

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}

func TestChannel_FetchMissingRemote(t *testing.T) {
	ch, _ := newMemChannel(t)
	defer ch.Close()

	local := filepath.Join(t.TempDir(), "gone.py")
	err := ch.Fetch("/nope/gone.py", local)
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, statErr := os.Stat(local)
	assert.True(t, os.IsNotExist(statErr))
}

func TestChannel_StoreMissingLocal(t *testing.T) {
	ch, _ := newMemChannel(t)
	defer ch.Close()

	err := ch.Store(filepath.Join(t.TempDir(), "missing.py"), "/missing.py")
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}

func TestChannel_FetchLeavesNoTempFiles(t *testing.T) {
	ch, client := newMemChannel(t)
	defer ch.Close()

	require.NoError(t, client.MkdirAll("/src"))
	writeRemote(t, client, "/src/a.py", "print(1)")

	dir := t.TempDir()
	require.NoError(t, ch.Fetch("/src/a.py", filepath.Join(dir, "a.py")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.py", entries[0].Name())
}

func TestChannel_StoreFailureRemovesPartialRemote(t *testing.T) {
	ch, client := newMemChannel(t)
	defer ch.Close()

	// 目录可以打开但读取会失败，上传在复制阶段中断
	err := ch.Store(t.TempDir(), "/partial.py")
	require.Error(t, err)

	_, statErr := client.Stat("/partial.py")
	assert.True(t, os.IsNotExist(statErr))
}
