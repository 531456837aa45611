package domain

import (
	"time"
)

// WatchedSymbol is one persisted entry of the subscription set
type WatchedSymbol struct {
	Symbol    string    `gorm:"primaryKey" json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppConfig represents user-specific configuration (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
