package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jessmzp/btcpayserver/internal/database"
	"github.com/jessmzp/btcpayserver/internal/transport"
)

type fakeTracker struct {
	mu        sync.Mutex
	untracked map[string]bool // 可解析但不可跟踪
	broken    map[string]bool // 无法解析
	allocated int
}

func (f *fakeTracker) Validate(_ context.Context, identifier string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[identifier] {
		return false, errors.New("unparseable identifier: " + identifier)
	}
	return !f.untracked[identifier], nil
}

func (f *fakeTracker) Allocate(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocated++
	return fmt.Sprintf("tracked-%d", f.allocated), nil
}

func (f *fakeTracker) Derive(_ context.Context, descriptor string) (string, error) {
	if descriptor == "broken" {
		return "", errors.New("unparseable descriptor")
	}
	return "derived-" + descriptor, nil
}

type testHub struct {
	hub       *Hub
	transport *transport.MemoryTransport
	store     *database.MemoryStore
	tracker   *fakeTracker
}

func newTestHub() *testHub {
	store := database.NewMemoryStore()
	mt := transport.NewMemoryTransport()
	tr := &fakeTracker{
		untracked: make(map[string]bool),
		broken:    make(map[string]bool),
	}
	h := NewHub(
		mt,
		database.NewCachedStoreSource(store, 16, time.Minute),
		database.NewCachedReservations(store, time.Minute),
		tr,
		tr,
	)
	return &testHub{hub: h, transport: mt, store: store, tracker: tr}
}

func TestConnectDisconnect(t *testing.T) {
	ctx := context.Background()
	th := newTestHub()
	th.store.SetStores("account-1", []string{"store-1", "store-2"})

	if err := th.hub.Connect(ctx, "c1", "account-1"); err != nil {
		t.Fatal(err)
	}

	if err := th.hub.Connect(ctx, "c1", "account-1"); !errors.Is(err, ConnectionExistsError) {
		t.Fatalf("Expected ConnectionExistsError, got %v", err)
	}

	rec, ok := th.hub.Lookup("c1")
	if !ok {
		t.Fatal("Except got record for c1, but got nothing")
	}
	if rec.AccountID != "account-1" || rec.DeviceID != 0 || rec.Master {
		t.Fatalf("unexpected record: %+v", rec)
	}
	for _, group := range []string{"account-1", "store-1", "store-2"} {
		if _, ok := rec.Groups[group]; !ok {
			t.Fatalf("Expected c1 to be in group %s", group)
		}
		if members := th.transport.Members(group); len(members) != 1 || members[0] != "c1" {
			t.Fatalf("Expected transport group %s to contain c1, got %v", group, members)
		}
	}

	conns := th.hub.ConnectionsOf("account-1")
	if len(conns) != 1 || conns[0] != "c1" {
		t.Fatalf("Expected [c1], got %v", conns)
	}

	th.hub.Disconnect(ctx, "c1")
	if _, ok := th.hub.Lookup("c1"); ok {
		t.Fatal("Except no record after disconnect")
	}
	if members := th.transport.Members("account-1"); len(members) != 0 {
		t.Fatalf("Expected empty group, got %v", members)
	}

	// 未知连接的断开是空操作
	th.hub.Disconnect(ctx, "unknown")
}

func TestConnectRollbackOnJoinFailure(t *testing.T) {
	ctx := context.Background()
	th := newTestHub()
	th.transport.FailJoins(errors.New("transport down"))

	if err := th.hub.Connect(ctx, "c1", "account-1"); err == nil {
		t.Fatal("Except connect to fail when transport join fails")
	}
	if _, ok := th.hub.Lookup("c1"); ok {
		t.Fatal("Except no record after failed connect")
	}
}

func TestMasterScenario(t *testing.T) {
	ctx := context.Background()
	th := newTestHub()

	// c1 无设备标识接入，申请主设备：绑定设备100并成功
	if err := th.hub.Connect(ctx, "c1", "account-A"); err != nil {
		t.Fatal(err)
	}
	if err := th.hub.RequestMaster(ctx, "c1", 100, true); err != nil {
		t.Fatal(err)
	}
	if deviceID, ok := th.hub.CurrentMaster("c1"); !ok || deviceID != 100 {
		t.Fatalf("Expected c1 to be master with device 100, got %d (ok=%v)", deviceID, ok)
	}

	// c2 同账户申请失败：已有主设备
	if err := th.hub.Connect(ctx, "c2", "account-A"); err != nil {
		t.Fatal(err)
	}
	if err := th.hub.RequestMaster(ctx, "c2", 200, true); !errors.Is(err, AlreadyMasteredError) {
		t.Fatalf("Expected AlreadyMasteredError, got %v", err)
	}

	// c1 断开：产生占位 account-A -> 100
	th.hub.Disconnect(ctx, "c1")
	if deviceID, ok, _ := th.store.Get(ctx, "account-A"); !ok || deviceID != 100 {
		t.Fatalf("Expected reservation for device 100, got %d (ok=%v)", deviceID, ok)
	}

	// c2 仍然不能抢占：占位属于设备100
	if err := th.hub.RequestMaster(ctx, "c2", 200, true); !errors.Is(err, ReservationConflictError) {
		t.Fatalf("Expected ReservationConflictError, got %v", err)
	}

	// 设备100重连并回收主设备身份，占位清除
	if err := th.hub.Connect(ctx, "c3", "account-A"); err != nil {
		t.Fatal(err)
	}
	if err := th.hub.RequestMaster(ctx, "c3", 100, true); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := th.store.Get(ctx, "account-A"); ok {
		t.Fatal("Except reservation cleared after reclaim")
	}
}

func TestMasterIdempotent(t *testing.T) {
	ctx := context.Background()
	th := newTestHub()

	if err := th.hub.Connect(ctx, "c1", "account-A"); err != nil {
		t.Fatal(err)
	}

	if err := th.hub.RequestMaster(ctx, "c1", 100, true); err != nil {
		t.Fatal(err)
	}
	if err := th.hub.RequestMaster(ctx, "c1", 100, true); err != nil {
		t.Fatalf("Expected idempotent success, got %v", err)
	}

	// 通知只发一次
	count := 0
	for _, payload := range th.transport.Received("c1") {
		env, err := transport.DecodeEnvelope(payload)
		if err != nil {
			t.Fatal(err)
		}
		if env.Type == "master-updated" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("Expected 1 master-updated notification, got %d", count)
	}
}

func TestMasterDisconnectNotifiesAccount(t *testing.T) {
	ctx := context.Background()
	th := newTestHub()

	if err := th.hub.Connect(ctx, "c1", "account-A"); err != nil {
		t.Fatal(err)
	}
	if err := th.hub.Connect(ctx, "c2", "account-A"); err != nil {
		t.Fatal(err)
	}
	if err := th.hub.RequestMaster(ctx, "c1", 100, true); err != nil {
		t.Fatal(err)
	}

	// 主设备异常断开，同账户的c2要收到"无主设备"推送
	th.hub.Disconnect(ctx, "c1")

	var lost *transport.Envelope
	for _, payload := range th.transport.Received("c2") {
		env, err := transport.DecodeEnvelope(payload)
		if err != nil {
			t.Fatal(err)
		}
		if env.Type == "master-updated" && !env.Bool("active") {
			lost = env
		}
	}
	if lost == nil {
		t.Fatal("Except c2 to receive a master-updated push after master disconnect, but got nothing")
	}
	if lost.String("account") != "account-A" || lost.Int64("device") != 0 {
		t.Fatalf("unexpected envelope: %v", lost.Data)
	}
}

func TestMasterDeviceMismatch(t *testing.T) {
	ctx := context.Background()
	th := newTestHub()

	if err := th.hub.Connect(ctx, "c1", "account-A"); err != nil {
		t.Fatal(err)
	}
	if err := th.hub.RequestMaster(ctx, "c1", 100, true); err != nil {
		t.Fatal(err)
	}
	if err := th.hub.RequestMaster(ctx, "c1", 200, true); !errors.Is(err, DeviceMismatchError) {
		t.Fatalf("Expected DeviceMismatchError, got %v", err)
	}
	if err := th.hub.RequestMaster(ctx, "unknown", 100, true); !errors.Is(err, ConnectionNotFoundError) {
		t.Fatalf("Expected ConnectionNotFoundError, got %v", err)
	}
}

func TestMasterConcurrency(t *testing.T) {
	ctx := context.Background()
	th := newTestHub()

	const workers = 32
	for i := 0; i < workers; i++ {
		if err := th.hub.Connect(ctx, fmt.Sprintf("c%d", i), "account-A"); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	var successMu sync.Mutex
	successes := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := th.hub.RequestMaster(ctx, fmt.Sprintf("c%d", i), int64(1000+i), true)
			if err == nil {
				successMu.Lock()
				successes++
				successMu.Unlock()
			} else if !errors.Is(err, AlreadyMasteredError) {
				t.Errorf("unexpected failure: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("Expected exactly 1 winner, got %d", successes)
	}

	masters := 0
	for i := 0; i < workers; i++ {
		if _, ok := th.hub.CurrentMaster(fmt.Sprintf("c%d", i)); ok {
			masters++
		}
	}
	if masters != 1 {
		t.Fatalf("Expected exactly 1 live master, got %d", masters)
	}
}

func TestReservationLifecycle(t *testing.T) {
	ctx := context.Background()
	th := newTestHub()

	if err := th.hub.Connect(ctx, "c1", "account-A"); err != nil {
		t.Fatal(err)
	}
	if err := th.hub.RequestMaster(ctx, "c1", 100, true); err != nil {
		t.Fatal(err)
	}
	th.hub.Disconnect(ctx, "c1")

	// 宽限期内原设备仍持有资格，其他设备没有
	if ok, err := th.hub.IsMaster(ctx, "account-A", 100); err != nil || !ok {
		t.Fatalf("Expected device 100 to keep master entitlement, got ok=%v err=%v", ok, err)
	}
	if ok, _ := th.hub.IsMaster(ctx, "account-A", 200); ok {
		t.Fatal("Except device 200 not to hold master entitlement")
	}

	// 主动释放后资格消失
	if err := th.hub.ExplicitRelease(ctx, "account-A"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := th.hub.IsMaster(ctx, "account-A", 100); ok {
		t.Fatal("Except entitlement gone after explicit release")
	}
}

func TestReservationFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	th := newTestHub()

	// 预置占位：设备100
	if _, err := th.store.Insert(ctx, "account-A", 100); err != nil {
		t.Fatal(err)
	}

	// 设备200接入、竞争失败、断开，占位不被改写
	if err := th.hub.Connect(ctx, "c2", "account-A"); err != nil {
		t.Fatal(err)
	}
	if err := th.hub.RequestMaster(ctx, "c2", 200, true); !errors.Is(err, ReservationConflictError) {
		t.Fatalf("Expected ReservationConflictError, got %v", err)
	}
	th.hub.Disconnect(ctx, "c2")

	if deviceID, ok, _ := th.store.Get(ctx, "account-A"); !ok || deviceID != 100 {
		t.Fatalf("Expected reservation to keep device 100, got %d (ok=%v)", deviceID, ok)
	}
}

type recordingListener struct {
	mu   sync.Mutex
	lost []string
}

func (rl *recordingListener) MasterLost(accountID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.lost = append(rl.lost, accountID)
}

func TestMasterLostListener(t *testing.T) {
	ctx := context.Background()
	th := newTestHub()
	listener := &recordingListener{}
	th.hub.AddMasterListener(listener)

	if err := th.hub.Connect(ctx, "c1", "account-A"); err != nil {
		t.Fatal(err)
	}
	if err := th.hub.RequestMaster(ctx, "c1", 100, true); err != nil {
		t.Fatal(err)
	}

	// 主动放弃触发一次
	if err := th.hub.RequestMaster(ctx, "c1", 100, false); err != nil {
		t.Fatal(err)
	}
	// 重新成为主设备后异常断开再触发一次
	if err := th.hub.ExplicitRelease(ctx, "account-A"); err != nil {
		t.Fatal(err)
	}
	if err := th.hub.RequestMaster(ctx, "c1", 100, true); err != nil {
		t.Fatal(err)
	}
	th.hub.Disconnect(ctx, "c1")

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.lost) != 2 {
		t.Fatalf("Expected 2 MasterLost notifications, got %d", len(listener.lost))
	}

	th.hub.RemoveMasterListener(listener)
}
