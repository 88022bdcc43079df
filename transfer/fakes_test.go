package transfer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"sync"
	"time"

	"fleet-transfer/transfer/session"
)

var errInjected = errors.New("injected transfer failure")

// fakeRemote 内存中的远程主机
type fakeRemote struct {
	mu       sync.Mutex
	listing  map[string][]string // 目录 -> 文件名（保持顺序）
	content  map[string]string   // 远程路径 -> 内容
	listErr  map[string]error
	mkdirErr error

	failures map[string]int // 远程路径 -> 剩余失败次数，-1 表示始终失败
	attempts map[string]int
	hang     map[string]bool // 阻塞直到通道关闭
	mkdirs   []string

	latency   time.Duration
	active    int
	maxActive int

	opened int
	closed int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		listing:  make(map[string][]string),
		content:  make(map[string]string),
		listErr:  make(map[string]error),
		failures: make(map[string]int),
		attempts: make(map[string]int),
		hang:     make(map[string]bool),
	}
}

func (r *fakeRemote) put(remotePath, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(remotePath, content)
}

func (r *fakeRemote) putLocked(remotePath, content string) {
	dir, name := path.Split(remotePath)
	dir = path.Clean(dir)
	if _, ok := r.content[remotePath]; !ok {
		r.listing[dir] = append(r.listing[dir], name)
	}
	r.content[remotePath] = content
}

func (r *fakeRemote) failFor(remotePath string, times int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[remotePath] = times
}

func (r *fakeRemote) attemptsFor(remotePath string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[remotePath]
}

func (r *fakeRemote) get(remotePath string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.content[remotePath]
	return c, ok
}

func (r *fakeRemote) channels() (opened, closed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened, r.closed
}

// takeMaxActive 返回并清零观测到的最大并发数
func (r *fakeRemote) takeMaxActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.maxActive
	r.maxActive = 0
	return n
}

// begin 记录一次传输尝试，返回应注入的错误
func (r *fakeRemote) begin(remotePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[remotePath]++
	r.active++
	if r.active > r.maxActive {
		r.maxActive = r.active
	}
	switch n := r.failures[remotePath]; {
	case n < 0:
		return errInjected
	case n > 0:
		r.failures[remotePath] = n - 1
		return errInjected
	}
	return nil
}

func (r *fakeRemote) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active--
}

type fakeDialer struct {
	remote  *fakeRemote
	dialErr error

	mu     sync.Mutex
	dials  int
	closes int
}

func newFakeDialer(remote *fakeRemote) *fakeDialer {
	return &fakeDialer{remote: remote}
}

func (d *fakeDialer) Dial(ctx context.Context, ep session.Endpoint) (session.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	d.dials++
	return &fakeSession{dialer: d}, nil
}

func (d *fakeDialer) counts() (dials, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials, d.closes
}

type fakeSession struct {
	dialer *fakeDialer
}

func (s *fakeSession) OpenChannel() (session.Channel, error) {
	r := s.dialer.remote
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
	return &fakeChannel{remote: r, done: make(chan struct{})}, nil
}

func (s *fakeSession) Close() error {
	s.dialer.mu.Lock()
	defer s.dialer.mu.Unlock()
	s.dialer.closes++
	return nil
}

// hostDialer 按主机名分发到不同的 fakeDialer
type hostDialer map[string]session.Dialer

func (h hostDialer) Dial(ctx context.Context, ep session.Endpoint) (session.Session, error) {
	return h[ep.Host].Dial(ctx, ep)
}

type fakeChannel struct {
	remote *fakeRemote
	once   sync.Once
	done   chan struct{}
}

func (c *fakeChannel) List(dir string) ([]string, error) {
	r := c.remote
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.listErr[dir]; err != nil {
		return nil, &session.Error{Kind: session.KindOf(err), Op: "list", Path: dir, Err: err}
	}
	names, ok := r.listing[dir]
	if !ok {
		return nil, &session.Error{Kind: session.KindNotFound, Op: "list", Path: dir, Err: fs.ErrNotExist}
	}
	return append([]string(nil), names...), nil
}

func (c *fakeChannel) Fetch(remotePath, localPath string) error {
	if err := c.transfer(remotePath); err != nil {
		return err
	}
	content, ok := c.remote.get(remotePath)
	if !ok {
		return &session.Error{Kind: session.KindNotFound, Op: "open remote", Path: remotePath, Err: fs.ErrNotExist}
	}
	return os.WriteFile(localPath, []byte(content), 0o644)
}

func (c *fakeChannel) Store(localPath, remotePath string) error {
	if err := c.transfer(remotePath); err != nil {
		return err
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	c.remote.put(remotePath, string(data))
	return nil
}

func (c *fakeChannel) transfer(remotePath string) error {
	r := c.remote
	err := r.begin(remotePath)
	defer r.end()

	r.mu.Lock()
	hang, latency := r.hang[remotePath], r.latency
	r.mu.Unlock()

	if hang {
		<-c.done
		return &session.Error{Kind: session.KindConnection, Op: "fetch", Path: remotePath, Err: errors.New("channel closed")}
	}
	if latency > 0 {
		time.Sleep(latency)
	}
	if err != nil {
		return &session.Error{Kind: session.KindIO, Op: "transfer", Path: remotePath, Err: err}
	}
	return nil
}

func (c *fakeChannel) MakeDir(dir string) error {
	r := c.remote
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mkdirErr != nil {
		return r.mkdirErr
	}
	r.mkdirs = append(r.mkdirs, dir)
	if _, ok := r.listing[dir]; !ok {
		r.listing[dir] = nil
	}
	return nil
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() {
		close(c.done)
		r := c.remote
		r.mu.Lock()
		r.closed++
		r.mu.Unlock()
	})
	return nil
}
