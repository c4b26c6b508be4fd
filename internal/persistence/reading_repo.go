package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skobkin/koradgo/internal/domain"
)

type ReadingRepo struct {
	db *sql.DB
}

func NewReadingRepo(db *sql.DB) *ReadingRepo {
	return &ReadingRepo{db: db}
}

func (r *ReadingRepo) Insert(ctx context.Context, rd domain.Reading) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO readings(taken_at, channel, set_voltage, set_current, output_voltage, output_current)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		toUnixMillis(rd.TakenAt),
		rd.Channel,
		nullableFloat(rd.SetVoltage),
		nullableFloat(rd.SetCurrent),
		nullableFloat(rd.OutputVoltage),
		nullableFloat(rd.OutputCurrent),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading id: %w", err)
	}
	return id, nil
}

// ListRecent returns up to limit readings of a channel, newest first.
func (r *ReadingRepo) ListRecent(ctx context.Context, channel, limit int) ([]domain.Reading, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT taken_at, channel, set_voltage, set_current, output_voltage, output_current
		FROM readings
		WHERE channel = ?
		ORDER BY taken_at DESC, id DESC
		LIMIT ?
	`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var out []domain.Reading
	for rows.Next() {
		var (
			rd         domain.Reading
			takenMs    int64
			setV, setI sql.NullFloat64
			outV, outI sql.NullFloat64
		)
		if err := rows.Scan(&takenMs, &rd.Channel, &setV, &setI, &outV, &outI); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		rd.TakenAt = fromUnixMillis(takenMs)
		rd.SetVoltage = floatPtr(setV)
		rd.SetCurrent = floatPtr(setI)
		rd.OutputVoltage = floatPtr(outV)
		rd.OutputCurrent = floatPtr(outI)
		out = append(out, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}

	return out, nil
}

// DeleteOlderThan removes readings taken before cutoff and reports how many.
func (r *ReadingRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM readings WHERE taken_at < ?`, toUnixMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete readings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleted readings count: %w", err)
	}
	return n, nil
}
