package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pnlrelay/internal/application/port"
	"pnlrelay/internal/domain/model"
	"pnlrelay/internal/infrastructure/storage"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  wallet_address TEXT NOT NULL UNIQUE,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id),
  long_market_index INTEGER NOT NULL,
  short_market_index INTEGER NOT NULL,
  entry_ratio DOUBLE PRECISION NOT NULL,
  capital DOUBLE PRECISION NOT NULL,
  leverage DOUBLE PRECISION NOT NULL,
  long_weight DOUBLE PRECISION NOT NULL DEFAULT 0.5,
  short_weight DOUBLE PRECISION NOT NULL DEFAULT 0.5,
  status TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_positions_user ON positions(user_id);
CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
`)
	return err
}

func (r *Repo) CreateUser(ctx context.Context, wallet string) (int64, error) {
	wallet = storage.NormalizeWallet(wallet)
	if wallet == "" {
		return 0, storage.ErrWalletRequired
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users(wallet_address, created_at) VALUES($1, $2)
		ON CONFLICT(wallet_address) DO UPDATE SET wallet_address=EXCLUDED.wallet_address
		RETURNING id
	`, wallet, time.Now().UnixMilli()).Scan(&id)
	return id, err
}

func (r *Repo) CreatePosition(ctx context.Context, pos model.Position) error {
	userID, err := r.CreateUser(ctx, pos.Owner)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if pos.Status == "" {
		pos.Status = model.PositionOpen
	}
	now := time.Now().UnixMilli()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO positions(id, user_id, long_market_index, short_market_index, entry_ratio,
			capital, leverage, long_weight, short_weight, status, created_at, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, pos.ID, userID, pos.LongIndex, pos.ShortIndex, pos.EntryRatio,
		pos.Capital, pos.Leverage, pos.LongWeight, pos.ShortWeight, string(pos.Status), now, now)
	return err
}

func (r *Repo) SetStatus(ctx context.Context, id string, status model.PositionStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE positions SET status=$1, updated_at=$2 WHERE id=$3`,
		string(status), time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrPositionNotFound
	}
	return nil
}

func (r *Repo) FindOpenPositions(ctx context.Context, identity string) ([]model.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, u.wallet_address, p.long_market_index, p.short_market_index, p.entry_ratio,
			p.capital, p.leverage, p.long_weight, p.short_weight, p.status
		FROM positions p
		JOIN users u ON u.id = p.user_id
		WHERE u.wallet_address = $1 AND p.status <> $2
		ORDER BY p.created_at, p.id
	`, storage.NormalizeWallet(identity), string(model.PositionClosed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		var p model.Position
		var status string
		if err := rows.Scan(&p.ID, &p.Owner, &p.LongIndex, &p.ShortIndex, &p.EntryRatio,
			&p.Capital, &p.Leverage, &p.LongWeight, &p.ShortWeight, &status); err != nil {
			return nil, err
		}
		p.Status = model.PositionStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

var (
	_ port.PositionStore     = (*Repo)(nil)
	_ storage.PositionWriter = (*Repo)(nil)
)
