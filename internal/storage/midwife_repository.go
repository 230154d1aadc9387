package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hellobump/booking-service/internal/model"
	"github.com/hellobump/booking-service/libs/db"
)

type MidwifeRepository struct {
	pool *db.Pool
}

func NewMidwifeRepository(pool *db.Pool) *MidwifeRepository {
	return &MidwifeRepository{pool: pool}
}

const midwifeColumns = `id::text, name, COALESCE(bio, ''), COALESCE(specialties, '{}'),
	COALESCE(photo_url, ''), availability, duration_minutes, created_at, updated_at`

func (r *MidwifeRepository) GetByID(ctx context.Context, id string) (model.Midwife, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+midwifeColumns+`
		FROM midwives
		WHERE id = $1
	`, id)
	return scanMidwife(row)
}

func (r *MidwifeRepository) List(ctx context.Context) ([]model.Midwife, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+midwifeColumns+`
		FROM midwives
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var midwives []model.Midwife
	for rows.Next() {
		m, err := scanMidwife(rows)
		if err != nil {
			return nil, err
		}
		midwives = append(midwives, m)
	}
	return midwives, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMidwife(row rowScanner) (model.Midwife, error) {
	var m model.Midwife
	var availabilityJSON []byte
	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Bio,
		&m.Specialties,
		&m.PhotoURL,
		&availabilityJSON,
		&m.DurationMinutes,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return model.Midwife{}, mapPgError(err)
	}
	if len(availabilityJSON) > 0 {
		if err := json.Unmarshal(availabilityJSON, &m.Availability); err != nil {
			return model.Midwife{}, fmt.Errorf("decode availability template: %w", err)
		}
	}
	return m, nil
}
