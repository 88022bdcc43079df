package session

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

const (
	// 下载中的临时文件后缀，os.CreateTemp 会把 * 替换为随机串
	partialSuffix = ".part-*"
	localFileMode = 0o644
)

type sshSession struct {
	client   *ssh.Client
	fileMode os.FileMode
}

// OpenChannel 在共享的 SSH 连接上新建一个 SFTP 客户端
func (s *sshSession) OpenChannel() (Channel, error) {
	client, err := sftp.NewClient(s.client)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: "open sftp", Path: s.client.RemoteAddr().String(), Err: err}
	}
	return NewChannel(client, s.fileMode), nil
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

type sftpChannel struct {
	client   *sftp.Client
	fileMode os.FileMode
}

// NewChannel 将已建立的 sftp.Client 包装为 Channel。
// fileMode 非 0 时，上传完成后会对远程文件执行 chmod。
func NewChannel(client *sftp.Client, fileMode os.FileMode) Channel {
	return &sftpChannel{client: client, fileMode: fileMode}
}

func (c *sftpChannel) List(dir string) ([]string, error) {
	entries, err := c.client.ReadDir(dir)
	if err != nil {
		return nil, wrap("list", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// Fetch 下载远程文件并覆盖本地文件。
// 内容先写入同目录下的临时文件，成功后再 rename 到 localPath，失败时只删除自己的临时文件。
func (c *sftpChannel) Fetch(remotePath, localPath string) error {
	src, err := c.client.Open(remotePath)
	if err != nil {
		return wrap("open remote", remotePath, err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+partialSuffix)
	if err != nil {
		return wrap("create local", localPath, err)
	}
	tmpPath := dst.Name()

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return wrap("fetch", remotePath, err)
	}
	if err := dst.Chmod(localFileMode); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return wrap("chmod local", localPath, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return wrap("close local", localPath, err)
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		os.Remove(tmpPath)
		return wrap("rename local", localPath, err)
	}
	return nil
}

// Store 上传本地文件并覆盖远程文件，传输中断时删除不完整的远程文件。
// 通道关闭后删除请求无法再发出，已超时的上传不会影响之后重传写入的文件。
func (c *sftpChannel) Store(localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return wrap("open local", localPath, err)
	}
	defer src.Close()

	dst, err := c.client.Create(remotePath)
	if err != nil {
		return wrap("create remote", remotePath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		c.client.Remove(remotePath)
		return wrap("store", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		c.client.Remove(remotePath)
		return wrap("close remote", remotePath, err)
	}

	if c.fileMode != 0 {
		if err := c.client.Chmod(remotePath, c.fileMode); err != nil {
			return wrap("chmod", remotePath, err)
		}
	}
	return nil
}

func (c *sftpChannel) MakeDir(dir string) error {
	return wrap("mkdir", dir, c.client.MkdirAll(dir))
}

func (c *sftpChannel) Close() error {
	return c.client.Close()
}
