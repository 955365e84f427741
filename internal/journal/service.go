// Package journal is the durable write-through store behind the engine. Every
// position transition and every cash movement lands here inside one
// serializable transaction; cash movements form a hash chain so the history
// is tamper-evident.
package journal

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"papertrade/internal/balance"
	"papertrade/internal/model"
	"papertrade/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

type Service struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewService(pool *pgxpool.Pool, log *zap.Logger) *Service {
	return &Service{pool: pool, log: log}
}

// EnsureSchema applies the engine schema. Statements are idempotent and are
// executed one at a time, since the pool's extended protocol rejects
// multi-statement strings.
func (s *Service) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
}

// RecordOpen persists a freshly opened position, the account snapshot after
// the margin reservation, and a reserve entry on the cash chain.
func (s *Service) RecordOpen(ctx context.Context, pos model.Position, snap balance.Snapshot) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertPosition(ctx, tx, pos); err != nil {
		return err
	}
	if err := upsertAccount(ctx, tx, snap); err != nil {
		return err
	}
	if err := s.appendEntry(ctx, tx, snap.UserID, &pos.ID, types.LedgerEntryTypeReserve, pos.Margin.Neg()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordClose persists the terminal position state, the settled account
// snapshot, and the release plus realized P&L entries.
func (s *Service) RecordClose(ctx context.Context, pos model.Position, snap balance.Snapshot) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := updatePositionClose(ctx, tx, pos); err != nil {
		return err
	}
	if err := upsertAccount(ctx, tx, snap); err != nil {
		return err
	}
	if err := s.appendEntry(ctx, tx, snap.UserID, &pos.ID, types.LedgerEntryTypeRelease, pos.Margin); err != nil {
		return err
	}
	if pos.RealizedPnL != nil && !pos.RealizedPnL.IsZero() {
		if err := s.appendEntry(ctx, tx, snap.UserID, &pos.ID, types.LedgerEntryTypeRealizedPnL, *pos.RealizedPnL); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// RecordLevels persists edited exit levels.
func (s *Service) RecordLevels(ctx context.Context, pos model.Position) error {
	var dist, mark *decimal.Decimal
	if pos.Trailing != nil {
		dist = &pos.Trailing.DistancePercent
		mark = &pos.Trailing.Watermark
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE positions
		SET take_profit_price = $1, stop_loss_price = $2, trailing_distance = $3, trailing_watermark = $4
		WHERE id = $5
	`, pos.TakeProfitPrice, pos.StopLossPrice, dist, mark, pos.ID)
	return err
}

// RecordRefill persists a clamped refill and its cash entry.
func (s *Service) RecordRefill(ctx context.Context, snap balance.Snapshot, applied decimal.Decimal) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := upsertAccount(ctx, tx, snap); err != nil {
		return err
	}
	if err := s.appendEntry(ctx, tx, snap.UserID, nil, types.LedgerEntryTypeRefill, applied); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// LoadAccounts returns every persisted account snapshot for boot recovery.
func (s *Service) LoadAccounts(ctx context.Context) ([]balance.Snapshot, error) {
	rows, err := s.pool.Query(ctx, "select user_id, cash_balance, reserved_margin from engine_accounts")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []balance.Snapshot
	for rows.Next() {
		var snap balance.Snapshot
		if err := rows.Scan(&snap.UserID, &snap.CashBalance, &snap.ReservedMargin); err != nil {
			return nil, err
		}
		snap.AvailableCash = snap.CashBalance.Sub(snap.ReservedMargin)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// LoadOpenPositions returns every open position for boot recovery.
func (s *Service) LoadOpenPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, `
		select id, user_id, symbol, asset_type, side, leverage, entry_price, quantity, margin,
		       liquidation_price, take_profit_price, stop_loss_price, trailing_distance, trailing_watermark,
		       opened_at
		from positions
		where status = 'open'
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		var (
			p          model.Position
			assetType  string
			side       string
			dist, mark *decimal.Decimal
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Symbol, &assetType, &side, &p.Leverage, &p.EntryPrice, &p.Quantity, &p.Margin,
			&p.LiquidationPrice, &p.TakeProfitPrice, &p.StopLossPrice, &dist, &mark, &p.OpenedAt); err != nil {
			return nil, err
		}
		p.AssetType = types.AssetType(assetType)
		p.Side = types.PositionSide(side)
		p.Status = types.PositionStatusOpen
		if dist != nil && mark != nil {
			p.Trailing = &model.TrailingStop{DistancePercent: *dist, Watermark: *mark}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func insertPosition(ctx context.Context, tx pgx.Tx, p model.Position) error {
	var dist, mark *decimal.Decimal
	if p.Trailing != nil {
		dist = &p.Trailing.DistancePercent
		mark = &p.Trailing.Watermark
	}
	_, err := tx.Exec(ctx, `
		insert into positions (id, user_id, symbol, asset_type, side, leverage, entry_price, quantity, margin,
			liquidation_price, take_profit_price, stop_loss_price, trailing_distance, trailing_watermark,
			status, opened_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, p.ID, p.UserID, p.Symbol, string(p.AssetType), string(p.Side), p.Leverage, p.EntryPrice, p.Quantity, p.Margin,
		p.LiquidationPrice, p.TakeProfitPrice, p.StopLossPrice, dist, mark, string(p.Status), p.OpenedAt)
	return err
}

func updatePositionClose(ctx context.Context, tx pgx.Tx, p model.Position) error {
	var mark *decimal.Decimal
	if p.Trailing != nil {
		mark = &p.Trailing.Watermark
	}
	_, err := tx.Exec(ctx, `
		update positions
		set status = $1, close_reason = $2, close_price = $3, realized_pnl = $4, closed_at = $5, trailing_watermark = $6
		where id = $7
	`, string(p.Status), string(p.CloseReason), p.ClosePrice, p.RealizedPnL, p.ClosedAt, mark, p.ID)
	return err
}

func upsertAccount(ctx context.Context, tx pgx.Tx, snap balance.Snapshot) error {
	_, err := tx.Exec(ctx, `
		insert into engine_accounts (user_id, cash_balance, reserved_margin, updated_at)
		values ($1, $2, $3, $4)
		on conflict (user_id) do update
		set cash_balance = excluded.cash_balance, reserved_margin = excluded.reserved_margin, updated_at = excluded.updated_at
	`, snap.UserID, snap.CashBalance, snap.ReservedMargin, time.Now().UTC())
	return err
}

// appendEntry links a new cash entry onto the hash chain. The advisory lock
// serializes chain writers across concurrent transactions.
func (s *Service) appendEntry(ctx context.Context, tx pgx.Tx, userID string, positionID *string, entryType types.LedgerEntryType, amount decimal.Decimal) error {
	if _, err := tx.Exec(ctx, "select pg_advisory_xact_lock(1)"); err != nil {
		return err
	}
	var prevHash *string
	err := tx.QueryRow(ctx, "select encode(hash, 'hex') from cash_entries order by sequence desc limit 1").Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var entryID string
	var seq int64
	err = tx.QueryRow(ctx, `
		insert into cash_entries (user_id, position_id, entry_type, amount, prev_hash, created_at)
		values ($1, $2, $3, $4, decode(nullif($5,''), 'hex'), $6)
		returning id, sequence
	`, userID, positionID, string(entryType), amount, nullable(prevHash), time.Now().UTC()).Scan(&entryID, &seq)
	if err != nil {
		return err
	}
	hash := computeHash(entryID, userID, amount, entryType, seq, prevHash)
	_, err = tx.Exec(ctx, "update cash_entries set hash = decode($1, 'hex') where id = $2", hash, entryID)
	return err
}

func computeHash(entryID, userID string, amount decimal.Decimal, entryType types.LedgerEntryType, seq int64, prevHash *string) string {
	buf := entryID + "|" + userID + "|" + amount.String() + "|" + string(entryType) + "|" + strconv.FormatInt(seq, 10) + "|"
	if prevHash != nil {
		buf += *prevHash
	}
	sum := sha256.Sum256([]byte(buf))
	return hex.EncodeToString(sum[:])
}

func nullable(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
