package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lk2023060901/file-service/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (testRecord) TableName() string {
	return "test_records"
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(MemoryConfig(), logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&testRecord{}))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestConfig_Validate(t *testing.T) {
	pg := func(mut func(c *Config)) *Config {
		c := DefaultConfig()
		mut(c)
		return c
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "default config", config: DefaultConfig()},
		{name: "memory config", config: MemoryConfig()},
		{name: "missing host", config: pg(func(c *Config) { c.Host = "" }), wantErr: true},
		{name: "invalid port", config: pg(func(c *Config) { c.Port = 0 }), wantErr: true},
		{name: "invalid SSL mode", config: pg(func(c *Config) { c.SSLMode = "invalid" }), wantErr: true},
		{name: "invalid log level", config: pg(func(c *Config) { c.LogLevel = "invalid" }), wantErr: true},
		{name: "idle exceeds open", config: pg(func(c *Config) { c.MaxIdleConns, c.MaxOpenConns = 100, 10 }), wantErr: true},
		{name: "unknown driver", config: pg(func(c *Config) { c.Driver = "mysql" }), wantErr: true},
		{
			name:    "sqlite without path",
			config:  &Config{Driver: DriverSQLite, LogLevel: "warn"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreferSimpleProtocol = true

	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=postgres dbname=file_service sslmode=disable TimeZone=UTC prefer_simple_protocol=true",
		cfg.DSN())
	assert.Equal(t, "postgres://localhost:5432/file_service", cfg.Target())
	assert.Equal(t, "sqlite::memory:", MemoryConfig().Target())
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 1, DefaultPageSize},
		{-3, 20, 1, 20},
		{2, 500, 2, MaxPageSize},
		{5, 25, 5, 25},
	}
	for _, tt := range tests {
		page, size := NormalizePage(tt.page, tt.size)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantSize, size)
	}
}

func TestTotalPages(t *testing.T) {
	assert.Equal(t, 0, TotalPages(0, 10))
	assert.Equal(t, 1, TotalPages(10, 10))
	assert.Equal(t, 2, TotalPages(11, 10))
	assert.Equal(t, 0, TotalPages(11, 0))
}

func TestSQLite_RoundTripAndHelpers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.HealthCheck(ctx))

	now := time.Now().UTC()
	for i := int64(1); i <= 25; i++ {
		rec := testRecord{ID: i, Name: "file-" + string(rune('a'+i-1)), CreatedAt: now}
		require.NoError(t, db.GetDBFromContext(ctx).Create(&rec).Error)
	}

	var page []testRecord
	err := db.GetDBFromContext(ctx).
		Scopes(Window(20, 10), WhereIf(true, "id > ?", 0)).
		Order("id").
		Find(&page).Error
	require.NoError(t, err)
	require.Len(t, page, 5)
	assert.Equal(t, int64(21), page[0].ID)

	var window []testRecord
	require.NoError(t, db.GetDBFromContext(ctx).Scopes(Window(5, 2), WhereIf(false, "id = ?", -1)).Order("id").Find(&window).Error)
	require.Len(t, window, 2)
	assert.Equal(t, int64(6), window[0].ID)

	var missing testRecord
	err = db.GetDBFromContext(ctx).First(&missing, "id = ?", 999).Error
	assert.True(t, IsRecordNotFoundError(err))
	assert.True(t, IsRecordNotFoundError(errors.Join(errors.New("ctx"), err)))

	dup := testRecord{ID: 100, Name: "file-a", CreatedAt: now}
	err = db.GetDBFromContext(ctx).Create(&dup).Error
	assert.True(t, IsDuplicateKeyError(err), "got %v", err)
}

func TestTransaction_RollbackAndContextPropagation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		_, inTx := TransactionFromContext(ctx)
		assert.True(t, inTx)
		if err := db.GetDBFromContext(ctx).Create(&testRecord{ID: 1, Name: "a", CreatedAt: time.Now()}).Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.GetDBFromContext(ctx).Model(&testRecord{}).Count(&count).Error)
	assert.Zero(t, count)

	err = db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		return tx.Create(&testRecord{ID: 2, Name: "b", CreatedAt: time.Now()}).Error
	})
	require.NoError(t, err)
	require.NoError(t, db.GetDBFromContext(ctx).Model(&testRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestAutoMigrate_Disabled(t *testing.T) {
	cfg := MemoryConfig()
	cfg.AutoMigrate = false
	db, err := New(cfg, logger.NewNop())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.AutoMigrate(&testRecord{}))
	assert.False(t, db.Migrator().HasTable(&testRecord{}))
}
