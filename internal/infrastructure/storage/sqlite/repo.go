package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"pnlrelay/internal/application/port"
	"pnlrelay/internal/domain/model"
	"pnlrelay/internal/infrastructure/storage"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  wallet_address TEXT NOT NULL UNIQUE,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
  id TEXT PRIMARY KEY,
  user_id INTEGER NOT NULL REFERENCES users(id),
  long_market_index INTEGER NOT NULL,
  short_market_index INTEGER NOT NULL,
  entry_ratio REAL NOT NULL,
  capital REAL NOT NULL,
  leverage REAL NOT NULL,
  long_weight REAL NOT NULL DEFAULT 0.5,
  short_weight REAL NOT NULL DEFAULT 0.5,
  status TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
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
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users(wallet_address, created_at) VALUES(?, ?)
		ON CONFLICT(wallet_address) DO NOTHING
	`, wallet, time.Now().UnixMilli())
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `SELECT id FROM users WHERE wallet_address=?`, wallet).Scan(&id)
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
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, pos.ID, userID, pos.LongIndex, pos.ShortIndex, pos.EntryRatio,
		pos.Capital, pos.Leverage, pos.LongWeight, pos.ShortWeight, string(pos.Status), now, now)
	return err
}

func (r *Repo) SetStatus(ctx context.Context, id string, status model.PositionStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE positions SET status=?, updated_at=? WHERE id=?`,
		string(status), time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrPositionNotFound
	}
	return nil
}

// FindOpenPositions 按钱包地址查询未平仓持仓（OPEN / PARTIAL）
func (r *Repo) FindOpenPositions(ctx context.Context, identity string) ([]model.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, u.wallet_address, p.long_market_index, p.short_market_index, p.entry_ratio,
			p.capital, p.leverage, p.long_weight, p.short_weight, p.status
		FROM positions p
		JOIN users u ON u.id = p.user_id
		WHERE u.wallet_address = ? AND p.status <> ?
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
