// Package catalog serves card catalog and reference price lookups. Reads
// are hot (every inventory page renders prices) so lookups go through a
// two-tier cache: a small in-process LRU in front of a shared Redis
// layer, with the database as the source of truth.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Card is a catalog entry with its current reference price
type Card struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	SetCode          string    `json:"set_code"`
	Number           string    `json:"number"`
	Rarity           string    `json:"rarity"`
	MarketPricePence int64     `json:"market_price_pence"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ErrNotFound reports a card id absent from the catalog
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("card %s not found in catalog", e.ID)
}

// Source resolves card ids to catalog entries
type Source interface {
	GetCard(ctx context.Context, id string) (*Card, error)
}

// DBSource reads the catalog from PostgreSQL
type DBSource struct {
	db *sql.DB
}

func NewDBSource(db *sql.DB) *DBSource {
	return &DBSource{db: db}
}

func (s *DBSource) GetCard(ctx context.Context, id string) (*Card, error) {
	var card Card
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, set_code, number, rarity, market_price_pence, updated_at FROM cards WHERE id = $1",
		id,
	).Scan(&card.ID, &card.Name, &card.SetCode, &card.Number, &card.Rarity, &card.MarketPricePence, &card.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load card %s: %w", id, err)
	}
	return &card, nil
}
