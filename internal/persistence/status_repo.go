package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/skobkin/koradgo/internal/domain"
	"github.com/skobkin/koradgo/internal/status"
)

// StatusRepo stores decoded status bytes. Only the raw byte is read back; the
// text columns are there for ad-hoc queries with the sqlite shell.
type StatusRepo struct {
	db *sql.DB
}

func NewStatusRepo(db *sql.DB) *StatusRepo {
	return &StatusRepo{db: db}
}

func (r *StatusRepo) Insert(ctx context.Context, rec domain.StatusRecord) (int64, error) {
	s := rec.Status
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO statuses(taken_at, raw, channel1, channel2, tracking, beep_on, lock_on, output_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		toUnixMillis(rec.TakenAt),
		int64(s.Raw),
		s.Channel1.String(),
		s.Channel2.String(),
		s.Tracking.String(),
		boolToInt(s.Beep == status.On),
		boolToInt(s.Lock == status.On),
		boolToInt(s.Output == status.On),
	)
	if err != nil {
		return 0, fmt.Errorf("insert status: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("status id: %w", err)
	}
	return id, nil
}

// Latest returns the most recent status record, if any.
func (r *StatusRepo) Latest(ctx context.Context) (domain.StatusRecord, bool, error) {
	var (
		takenMs int64
		raw     int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT taken_at, raw FROM statuses ORDER BY taken_at DESC, id DESC LIMIT 1
	`).Scan(&takenMs, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StatusRecord{}, false, nil
	}
	if err != nil {
		return domain.StatusRecord{}, false, fmt.Errorf("latest status: %w", err)
	}

	snapshot, err := status.Decode(byte(raw))
	if err != nil {
		return domain.StatusRecord{}, false, fmt.Errorf("decode stored status: %w", err)
	}
	return domain.StatusRecord{TakenAt: fromUnixMillis(takenMs), Status: snapshot}, true, nil
}

// DeleteOlderThan removes status records taken before cutoff.
func (r *StatusRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM statuses WHERE taken_at < ?`, toUnixMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete statuses: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleted statuses count: %w", err)
	}
	return n, nil
}
