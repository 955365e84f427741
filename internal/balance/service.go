// Package balance owns per-user cash and reserved margin. All mutations run
// under a per-account lock so concurrent opens, closes and refills for the
// same user cannot interleave into an inconsistent balance; accounts of
// different users never contend.
package balance

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultMaxBalance is the hard cap on cash per account.
const DefaultMaxBalance = 100000

var ErrInsufficientMargin = errors.New("insufficient available cash for requested margin")

// Journal persists balance movements. Implemented by the postgres journal; a
// failed write rolls the in-memory mutation back.
type Journal interface {
	RecordRefill(ctx context.Context, snap Snapshot, applied decimal.Decimal) error
}

type Snapshot struct {
	UserID         string          `json:"user_id"`
	CashBalance    decimal.Decimal `json:"cash_balance"`
	ReservedMargin decimal.Decimal `json:"reserved_margin"`
	AvailableCash  decimal.Decimal `json:"available_cash"`
}

type account struct {
	mu       sync.Mutex
	cash     decimal.Decimal
	reserved decimal.Decimal
}

type Service struct {
	mu       sync.Mutex
	accounts map[string]*account
	cap      decimal.Decimal
	journal  Journal
	log      *zap.Logger
}

func NewService(maxBalance decimal.Decimal, journal Journal, log *zap.Logger) *Service {
	if maxBalance.LessThanOrEqual(decimal.Zero) {
		maxBalance = decimal.NewFromInt(DefaultMaxBalance)
	}
	return &Service{
		accounts: make(map[string]*account),
		cap:      maxBalance,
		journal:  journal,
		log:      log,
	}
}

// get creates the account on first trading activity.
func (s *Service) get(userID string) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		a = &account{cash: decimal.Zero, reserved: decimal.Zero}
		s.accounts[userID] = a
	}
	return a
}

func (a *account) snapshot(userID string) Snapshot {
	return Snapshot{
		UserID:         userID,
		CashBalance:    a.cash,
		ReservedMargin: a.reserved,
		AvailableCash:  a.cash.Sub(a.reserved),
	}
}

func (s *Service) Summary(userID string) Snapshot {
	a := s.get(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot(userID)
}

// ReserveMargin locks amount out of available cash.
func (s *Service) ReserveMargin(userID string, amount decimal.Decimal) (Snapshot, error) {
	a := s.get(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cash.Sub(a.reserved).LessThan(amount) {
		return a.snapshot(userID), ErrInsufficientMargin
	}
	a.reserved = a.reserved.Add(amount)
	return a.snapshot(userID), nil
}

// ReleaseMargin frees previously reserved collateral. Never goes below zero.
func (s *Service) ReleaseMargin(userID string, amount decimal.Decimal) Snapshot {
	a := s.get(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release(amount)
	return a.snapshot(userID)
}

func (a *account) release(amount decimal.Decimal) {
	a.reserved = a.reserved.Sub(amount)
	if a.reserved.LessThan(decimal.Zero) {
		a.reserved = decimal.Zero
	}
}

// ApplyRealizedPnL credits or debits booked profit. Credits are clamped at
// the balance cap.
func (s *Service) ApplyRealizedPnL(userID string, amount decimal.Decimal) Snapshot {
	a := s.get(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applyPnL(amount, s.cap)
	return a.snapshot(userID)
}

func (a *account) applyPnL(amount, cap decimal.Decimal) {
	a.cash = a.cash.Add(amount)
	if a.cash.GreaterThan(cap) {
		a.cash = cap
	}
	if a.cash.LessThan(decimal.Zero) {
		// Realized loss cannot exceed posted margin by construction; a
		// negative balance here means a settlement bug upstream.
		a.cash = decimal.Zero
	}
}

// Settle releases the position's margin and applies its realized P&L as one
// atomic step, so a concurrent summary can never observe the margin released
// but the loss not yet booked.
func (s *Service) Settle(userID string, margin, realizedPnL decimal.Decimal) Snapshot {
	a := s.get(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release(margin)
	a.applyPnL(realizedPnL, s.cap)
	return a.snapshot(userID)
}

// Refill tops the account up, clamped to the cap. Requesting more than fits
// is not an error: the applied amount, possibly zero, is reported back.
func (s *Service) Refill(ctx context.Context, userID string, requested decimal.Decimal) (applied decimal.Decimal, snap Snapshot, err error) {
	a := s.get(userID)
	a.mu.Lock()
	defer a.mu.Unlock()

	applied = s.cap.Sub(a.cash)
	if requested.LessThan(applied) {
		applied = requested
	}
	if applied.LessThan(decimal.Zero) {
		applied = decimal.Zero
	}
	prev := a.cash
	a.cash = a.cash.Add(applied)
	snap = a.snapshot(userID)
	if s.journal != nil && applied.GreaterThan(decimal.Zero) {
		if err = s.journal.RecordRefill(ctx, snap, applied); err != nil {
			a.cash = prev
			return decimal.Zero, a.snapshot(userID), err
		}
	}
	if s.log != nil && applied.LessThan(requested) {
		s.log.Info("refill clamped at balance cap",
			zap.String("user_id", userID),
			zap.String("requested", requested.String()),
			zap.String("applied", applied.String()))
	}
	return applied, snap, nil
}

// Restore seeds an account from its persisted snapshot at boot. It must not
// be called once trading traffic is flowing.
func (s *Service) Restore(snap Snapshot) {
	a := s.get(snap.UserID)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cash = snap.CashBalance
	a.reserved = snap.ReservedMargin
}
