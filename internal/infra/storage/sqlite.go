package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"pricefeed/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists the watchlist and user settings in SQLite
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path.
// An empty path resolves to the OS config directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		dbPath, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.WatchedSymbol{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "PriceFeed", "data", "pricefeed.db"), nil
}

// Close releases the underlying connection pool
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Watchlist Operations
// ======================================================================================

// AddSymbol stores a watched symbol. Adding an existing symbol keeps its CreatedAt.
func (s *Storage) AddSymbol(symbol domain.Symbol) error {
	if symbol.IsZero() {
		return domain.ErrInvalidSymbol
	}
	entry := domain.WatchedSymbol{Symbol: symbol.String()}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error
}

// RemoveSymbol deletes a watched symbol. Removing an unknown symbol is not an error.
func (s *Storage) RemoveSymbol(symbol domain.Symbol) error {
	return s.db.Where("symbol = ?", symbol.String()).Delete(&domain.WatchedSymbol{}).Error
}

// ListSymbols returns every watched symbol ordered by name
func (s *Storage) ListSymbols() ([]domain.Symbol, error) {
	var entries []domain.WatchedSymbol
	if err := s.db.Order("symbol").Find(&entries).Error; err != nil {
		return nil, err
	}

	symbols := make([]domain.Symbol, len(entries))
	for i, e := range entries {
		symbols[i] = domain.Symbol(e.Symbol)
	}
	return symbols, nil
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a user configuration
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// LoadConfigMap loads all user configurations as a map
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}
