// Package store persists validator endpoint state and circuit history in
// a local sqlite database.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vpncircuit/internal/circuit"
	"vpncircuit/internal/registry"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EndpointRecord mirrors a registry endpoint across restarts.
type EndpointRecord struct {
	Address     string `gorm:"primaryKey"`
	Port        int    `gorm:"primaryKey"`
	Active      bool
	LastChecked time.Time
}

func (EndpointRecord) TableName() string { return "validator_endpoints" }

// CircuitRecord is one row of circuit history.
type CircuitRecord struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	ExpiresAt time.Time
	HopCount  int
	Path      string
	Direct    bool
	StoppedAt *time.Time
}

func (CircuitRecord) TableName() string { return "circuits" }

type Store struct {
	db *gorm.DB
}

// Open creates the database (and its directory) if needed and migrates
// the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&EndpointRecord{}, &CircuitRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveEndpoint upserts one endpoint's status. Implements registry.Store.
func (s *Store) SaveEndpoint(ctx context.Context, ep registry.Endpoint) error {
	rec := EndpointRecord{
		Address:     ep.Address,
		Port:        ep.Port,
		Active:      ep.Active,
		LastChecked: ep.LastChecked,
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// ListEndpoints returns every persisted endpoint.
func (s *Store) ListEndpoints(ctx context.Context) ([]registry.Endpoint, error) {
	var recs []EndpointRecord
	if err := s.db.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]registry.Endpoint, 0, len(recs))
	for _, r := range recs {
		out = append(out, registry.Endpoint{
			Address:     r.Address,
			Port:        r.Port,
			Active:      r.Active,
			LastChecked: r.LastChecked,
		})
	}
	return out, nil
}

// RecordCircuit appends a circuit to the history.
func (s *Store) RecordCircuit(ctx context.Context, c *circuit.Circuit) error {
	rec := CircuitRecord{
		ID:        c.ID,
		CreatedAt: c.CreatedAt,
		ExpiresAt: c.ExpiresAt,
		HopCount:  len(c.Hops),
		Path:      strings.Join(c.Countries(), " -> "),
		Direct:    c.Direct(),
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// MarkCircuitStopped stamps the teardown time on a history row.
func (s *Store) MarkCircuitStopped(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).
		Model(&CircuitRecord{}).
		Where("id = ?", id).
		Update("stopped_at", &now).Error
}

// RecentCircuits returns the newest rows first.
func (s *Store) RecentCircuits(ctx context.Context, limit int) ([]CircuitRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []CircuitRecord
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
