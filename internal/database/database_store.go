package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jessmzp/btcpayserver/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type DBStore struct {
	client *mongo.Client
	db     *mongo.Database
}

var (
	DbStore             *DBStore
	AccountIdEmptyError = errors.New("account_id is empty")
)

func NewDatabaseStore() *DBStore {
	if DbStore == nil {
		DbStore = &DBStore{client: Client, db: Database}
	}
	return DbStore
}

func (ds *DBStore) Get(ctx context.Context, accountID string) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	if accountID == "" {
		return 0, false, AccountIdEmptyError
	}

	filter := bson.D{{Key: "account_id", Value: accountID}}
	var reservation MasterReservation

	startTime := time.Now()
	err := Database.Collection(ReservationCollectionName).FindOne(ctx, filter).Decode(&reservation)
	logger.DebugF("reservation query cost: %v", time.Since(startTime))

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("database operation failed: %w", err)
	}
	return reservation.DeviceID, true, nil
}

func (ds *DBStore) GetAll(ctx context.Context) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	startTime := time.Now()
	cursor, err := Database.Collection(ReservationCollectionName).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("database operation failed: %w", err)
	}

	var reservations []MasterReservation
	if err := cursor.All(ctx, &reservations); err != nil {
		return nil, fmt.Errorf("database operation failed: %w", err)
	}
	logger.DebugF("reservation full query cost: %v", time.Since(startTime))

	result := make(map[string]int64, len(reservations))
	for _, reservation := range reservations {
		result[reservation.AccountID] = reservation.DeviceID
	}
	return result, nil
}

func (ds *DBStore) Insert(ctx context.Context, accountID string, deviceID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	if accountID == "" {
		return false, AccountIdEmptyError
	}

	// 唯一索引保证"先写者胜"：已有占位时插入失败且不覆盖
	_, err := Database.Collection(ReservationCollectionName).InsertOne(ctx, MasterReservation{
		AccountID: accountID,
		DeviceID:  deviceID,
	})

	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			logger.DebugF("Reservation already exists: account_id=%s", accountID)
			return false, nil
		}
		return false, fmt.Errorf("database operation failed: %w", err)
	}

	logger.InfoF("Reservation saved: account_id=%s, device_id=%d", accountID, deviceID)
	return true, nil
}

func (ds *DBStore) Delete(ctx context.Context, accountID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	if accountID == "" {
		return false, AccountIdEmptyError
	}

	filter := bson.D{{Key: "account_id", Value: accountID}}
	result, err := Database.Collection(ReservationCollectionName).DeleteOne(ctx, filter)

	if err != nil {
		return false, fmt.Errorf("database operation failed: %w", err)
	}

	logger.InfoF("Reservation deleted: account_id=%s, deleted=%d", accountID, result.DeletedCount)

	return result.DeletedCount > 0, nil
}

func (ds *DBStore) StoresOf(ctx context.Context, accountID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()

	if accountID == "" {
		return nil, AccountIdEmptyError
	}

	filter := bson.D{{Key: "account_id", Value: accountID}}

	startTime := time.Now()
	cursor, err := Database.Collection(AccountStoreCollectionName).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("database operation failed: %w", err)
	}

	var records []AccountStore
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("database operation failed: %w", err)
	}
	logger.DebugF("account store query cost: %v", time.Since(startTime))

	stores := make([]string, 0, len(records))
	for _, record := range records {
		stores = append(stores, record.StoreID)
	}
	return stores, nil
}
