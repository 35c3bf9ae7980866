package database

import "context"

const (
	ReservationCollectionName  = "reservations"
	AccountStoreCollectionName = "account_stores"
)

var collectionsList = []string{ReservationCollectionName, AccountStoreCollectionName}

// MasterReservation 记录账户上一个主设备的占位（断线宽限期内有效）
type MasterReservation struct {
	AccountID string `bson:"account_id"`
	DeviceID  int64  `bson:"device_id"`
}

// AccountStore 记录账户拥有的店铺
type AccountStore struct {
	AccountID string `bson:"account_id"`
	StoreID   string `bson:"store_id"`
}

// ReservationStore 主设备占位的持久化接口
type ReservationStore interface {
	// Get 查询账户的占位设备，不存在时第二个返回值为false
	Get(ctx context.Context, accountID string) (int64, bool, error)
	// GetAll 返回全部占位记录
	GetAll(ctx context.Context) (map[string]int64, error)
	// Insert 写入占位，账户已有占位时不覆盖并返回false
	Insert(ctx context.Context, accountID string, deviceID int64) (bool, error)
	// Delete 删除占位，记录存在且被删除时返回true
	Delete(ctx context.Context, accountID string) (bool, error)
}

// StoreSource 账户店铺归属的查询接口
type StoreSource interface {
	StoresOf(ctx context.Context, accountID string) ([]string, error)
}
