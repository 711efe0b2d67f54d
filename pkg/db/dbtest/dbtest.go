// Package dbtest opens isolated in-memory sqlite databases with the dispatch
// schema for repository and service tests.
package dbtest

import (
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/migrate"
)

// Open returns a fresh database private to the calling test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
		Logger: gormlogger.New(
			log.New(io.Discard, "", log.LstdFlags),
			gormlogger.Config{LogLevel: gormlogger.Silent},
		),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrate.AutoMigrateModels(conn); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return conn
}

// CreateAgent persists agent and returns it with its generated id.
func CreateAgent(t testing.TB, conn *gorm.DB, agent models.DeliveryAgent) models.DeliveryAgent {
	t.Helper()
	if err := conn.Create(&agent).Error; err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return agent
}

// CreateOrder persists order together with its items.
func CreateOrder(t testing.TB, conn *gorm.DB, order models.Order) models.Order {
	t.Helper()
	if order.ClientID == uuid.Nil {
		order.ClientID = uuid.New()
	}
	if err := conn.Create(&order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

// ReloadAgent fetches the current row for id.
func ReloadAgent(t testing.TB, conn *gorm.DB, id uuid.UUID) models.DeliveryAgent {
	t.Helper()
	var agent models.DeliveryAgent
	if err := conn.First(&agent, "id = ?", id).Error; err != nil {
		t.Fatalf("reload agent: %v", err)
	}
	return agent
}

// ReloadOrder fetches the order with its assignment history in attempt order.
func ReloadOrder(t testing.TB, conn *gorm.DB, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	err := conn.
		Preload("Assignments", func(db *gorm.DB) *gorm.DB { return db.Order("attempt ASC") }).
		Preload("Items").
		First(&order, "id = ?", id).Error
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return order
}

// Float returns a pointer to v, for nullable coordinates.
func Float(v float64) *float64 {
	return &v
}
