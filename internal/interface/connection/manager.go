package connection

import (
	"errors"
	"net"
	"sync"
	"time"
)

// ErrTooManyConnections は同時トンネル数の上限に達したことを示す
var ErrTooManyConnections = errors.New("too many open tunnels")

// Manager はハイジャックしたトンネル接続を管理する
// http.Server.Shutdown はハイジャック済みの接続を閉じないため、終了時にここで閉じる
type Manager struct {
	mu         sync.Mutex
	tunnels    map[*tunnel]struct{}
	maxTunnels int
	closed     bool
}

type tunnel struct {
	host      string
	conns     []net.Conn
	createdAt time.Time
}

// NewManager は新しいManagerインスタンスを作成
// maxTunnels が 0 以下の場合は上限なし
func NewManager(maxTunnels int) *Manager {
	return &Manager{
		tunnels:    make(map[*tunnel]struct{}),
		maxTunnels: maxTunnels,
	}
}

// Track はトンネルを構成する接続を登録し、登録を解除する関数を返す
func (m *Manager) Track(host string, conns ...net.Conn) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, net.ErrClosed
	}
	if m.maxTunnels > 0 && len(m.tunnels) >= m.maxTunnels {
		return nil, ErrTooManyConnections
	}

	t := &tunnel{host: host, conns: conns, createdAt: time.Now()}
	m.tunnels[t] = struct{}{}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.tunnels, t)
	}, nil
}

// Count は開いているトンネル数を返す
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tunnels)
}

// CloseAll は全ての接続を閉じ、以降の登録を拒否する
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	var errs []error
	for t := range m.tunnels {
		for _, c := range t.conns {
			if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
	}
	m.tunnels = make(map[*tunnel]struct{})
	return errors.Join(errs...)
}
