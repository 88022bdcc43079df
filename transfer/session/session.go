// Package session 提供到远程主机的 SSH 会话，以及基于会话打开的 SFTP 文件通道。
//
// 一个 Session 对应一条经过认证的 SSH 连接，可被多个并发任务共享；
// 每个任务通过 OpenChannel 打开自己独占的 Channel，用完即关。
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultDialTimeout = 30 * time.Second

// Credentials SSH 登录凭据，Password 与 KeyPath 至少提供一个
type Credentials struct {
	User     string
	Password string
	KeyPath  string
}

// Endpoint 远程主机地址及认证信息
type Endpoint struct {
	Host           string
	Port           int
	Credentials    Credentials
	KnownHostsFile string        // 为空时不校验主机公钥
	Timeout        time.Duration // 建立连接的超时时间
}

// Address 返回 host:port 形式的地址
func (e Endpoint) Address() string {
	port := e.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

// Dialer 打开到远程主机的会话
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint) (Session, error)
}

// Session 一条已认证的远程连接
type Session interface {
	OpenChannel() (Channel, error)
	Close() error
}

// Channel 会话上的文件传输通道，仅供单个任务使用
type Channel interface {
	List(dir string) ([]string, error)
	Fetch(remotePath, localPath string) error
	Store(localPath, remotePath string) error
	MakeDir(dir string) error
	Close() error
}

// SSHDialer 通过 golang.org/x/crypto/ssh 建立会话
type SSHDialer struct {
	// FileMode 上传后设置的远程文件权限，0 表示不修改
	FileMode os.FileMode
}

// NewDialer 创建默认的 SSH 拨号器
func NewDialer() *SSHDialer {
	return &SSHDialer{}
}

// Dial 建立 SSH 连接，失败时返回 KindConnection 类型的错误
func (d *SSHDialer) Dial(ctx context.Context, ep Endpoint) (Session, error) {
	config, err := clientConfig(ep)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: "ssh config", Path: ep.Address(), Err: err}
	}

	addr := ep.Address()
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: "dial", Path: addr, Err: err}
	}

	// 握手阶段同样受超时约束
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, &Error{Kind: KindConnection, Op: "ssh handshake", Path: addr, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshSession{client: ssh.NewClient(ncc, chans, reqs), fileMode: d.FileMode}, nil
}

func clientConfig(ep Endpoint) (*ssh.ClientConfig, error) {
	auth, err := authMethods(ep.Credentials)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := hostKeyCallback(ep)
	if err != nil {
		return nil, err
	}

	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	return &ssh.ClientConfig{
		User:            ep.Credentials.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

func authMethods(c Credentials) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if c.KeyPath != "" {
		keyData, err := os.ReadFile(c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("读取私钥文件失败: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("解析私钥失败: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		methods = append(methods, ssh.Password(c.Password))
	}

	if len(methods) == 0 {
		return nil, errors.New("未配置 SSH 认证方式")
	}
	return methods, nil
}

func hostKeyCallback(ep Endpoint) (ssh.HostKeyCallback, error) {
	if ep.KnownHostsFile == "" {
		logx.Debugf("未配置 known_hosts，跳过 %s 的主机公钥校验", ep.Address())
		return ssh.InsecureIgnoreHostKey(), nil
	}

	callback, err := knownhosts.New(ep.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("加载 known_hosts 文件 %s 失败: %w", ep.KnownHostsFile, err)
	}
	return callback, nil
}
