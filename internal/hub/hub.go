package hub

import (
	"sync"

	"github.com/jessmzp/btcpayserver/internal/database"
	"github.com/jessmzp/btcpayserver/internal/transport"
)

// Hub 连接登记表与主设备仲裁的所有者
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*ConnectionRecord
	accounts map[string]map[string]struct{} // 账户 -> 连接ID集合
	locks    map[string]*accountLock        // 按账户分片的仲裁锁

	transport    transport.Transport
	stores       database.StoreSource
	reservations *database.CachedReservations
	tracker      TrackerClient
	parser       DescriptorParser

	listenerMu sync.Mutex
	listeners  []MasterListener
}

func NewHub(
	t transport.Transport,
	stores database.StoreSource,
	reservations *database.CachedReservations,
	tracker TrackerClient,
	parser DescriptorParser,
) *Hub {
	return &Hub{
		conns:        make(map[string]*ConnectionRecord),
		accounts:     make(map[string]map[string]struct{}),
		locks:        make(map[string]*accountLock),
		transport:    t,
		stores:       stores,
		reservations: reservations,
		tracker:      tracker,
		parser:       parser,
	}
}

// AddMasterListener 注册主设备丢失监听者
func (h *Hub) AddMasterListener(listener MasterListener) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	h.listeners = append(h.listeners, listener)
}

// RemoveMasterListener 注销监听者
func (h *Hub) RemoveMasterListener(listener MasterListener) {
	h.listenerMu.Lock()
	defer h.listenerMu.Unlock()
	for i, registered := range h.listeners {
		if registered == listener {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return
		}
	}
}

func (h *Hub) fireMasterLost(accountID string) {
	h.listenerMu.Lock()
	listeners := make([]MasterListener, len(h.listeners))
	copy(listeners, h.listeners)
	h.listenerMu.Unlock()

	for _, listener := range listeners {
		listener.MasterLost(accountID)
	}
}

// accountLock 单账户的仲裁锁，按需创建，账户无连接时回收
type accountLock struct {
	mu   sync.Mutex
	refs int
}

func (h *Hub) lockAccount(accountID string) *accountLock {
	h.mu.Lock()
	al, ok := h.locks[accountID]
	if !ok {
		al = &accountLock{}
		h.locks[accountID] = al
	}
	al.refs++
	h.mu.Unlock()

	al.mu.Lock()
	return al
}

func (h *Hub) unlockAccount(accountID string, al *accountLock) {
	al.mu.Unlock()

	h.mu.Lock()
	al.refs--
	if al.refs == 0 && len(h.accounts[accountID]) == 0 {
		delete(h.locks, accountID)
	}
	h.mu.Unlock()
}

// commit 以"复制-变换-替换"的方式更新连接记录，是唯一的记录写路径
func (h *Hub) commit(connID string, transition func(rec *ConnectionRecord) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	rec, ok := h.conns[connID]
	if !ok {
		return ConnectionNotFoundError
	}

	next := rec.clone()
	if err := transition(next); err != nil {
		return err
	}
	h.conns[connID] = next
	return nil
}
