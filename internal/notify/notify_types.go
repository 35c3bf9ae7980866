// Package notify 实现了领域事件到连接分组的通知路由
package notify

// EventType 定义了服务端下发通知的类型
type EventType byte

// 通知类型常量定义
const (
	NodeInfoChanged     EventType = iota + 1 // 节点地址变更
	NewBlock                                 // 新区块
	TransactionDetected                      // 跟踪标识命中交易
	MasterUpdated                            // 主设备变更
	DomainEvent                              // 通用领域事件（账户/店铺/发票等）
)

// EventTypeMap 将EventType映射到其字符串表示
var EventTypeMap = map[EventType]string{
	NodeInfoChanged:     "node-info-changed",
	NewBlock:            "new-block",
	TransactionDetected: "tx-detected",
	MasterUpdated:       "master-updated",
	DomainEvent:         "event",
}

// String 返回EventType的字符串表示
func (eventType EventType) String() string {
	return EventTypeMap[eventType]
}

// Event 待路由的领域事件
type Event struct {
	Type      EventType
	Name      string // 通用领域事件的类型字符串
	AccountID string
	StoreID   string
	Group     string // 跟踪标识对应的分组
	Detail    string
	DeviceID  int64 // 主设备变更时的设备标识
	Active    bool  // 主设备变更时是否仍有主设备
}
