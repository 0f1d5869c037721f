package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"stake-arena/internal/metrics"
	"stake-arena/internal/model"
	"stake-arena/internal/repository"
)

// MatchReference is the transaction reference for stakes and wins of a match.
func MatchReference(matchID int64) string {
	return fmt.Sprintf("match:%d", matchID)
}

// DrawReference is the transaction reference for draw refunds of a match.
func DrawReference(matchID int64) string {
	return fmt.Sprintf("match:%d:draw", matchID)
}

// Ledger owns wallet balances and the transaction log. Every balance change
// goes through ApplyTransaction or ApplyInTx.
type Ledger struct {
	db      Transactor
	wallets *repository.WalletRepository
	txs     *repository.TransactionRepository
	now     func() time.Time
}

// NewLedger creates a new Ledger instance.
func NewLedger(db Transactor, wallets *repository.WalletRepository, txs *repository.TransactionRepository) *Ledger {
	return &Ledger{
		db:      db,
		wallets: wallets,
		txs:     txs,
		now:     time.Now,
	}
}

// EnsureWallet returns the user's wallet, creating an empty one on first use.
func (l *Ledger) EnsureWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	w, err := l.wallets.Ensure(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}
	return w, nil
}

// GetBalance returns the user's current balance.
func (l *Ledger) GetBalance(ctx context.Context, userID int64) (int64, error) {
	w, err := l.EnsureWallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// ApplyTransaction changes the user's balance by amount and records it, in
// its own database transaction.
func (l *Ledger) ApplyTransaction(ctx context.Context, userID, amount int64, kind model.TxKind, reference string) (*model.Transaction, error) {
	var rec *model.Transaction
	err := l.db.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		rec, err = l.ApplyInTx(ctx, tx, userID, amount, kind, reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ApplyInTx is ApplyTransaction as part of a caller's transaction. The wallet
// row stays locked until tx ends. A debit that would make the balance
// negative fails with ErrInsufficientFunds.
func (l *Ledger) ApplyInTx(ctx context.Context, tx pgx.Tx, userID, amount int64, kind model.TxKind, reference string) (*model.Transaction, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	if !kind.Valid() {
		return nil, ErrInvalidKind
	}

	wallets := l.wallets.WithTx(tx)
	if _, err := wallets.Ensure(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}
	w, err := wallets.GetByOwnerForUpdate(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	balance, err := nextBalance(w.Balance, amount)
	if err != nil {
		return nil, err
	}

	if _, err := wallets.SetBalance(ctx, w.ID, balance); err != nil {
		return nil, err
	}
	rec, err := l.txs.WithTx(tx).Create(ctx, w.ID, userID, amount, kind, reference)
	if err != nil {
		return nil, err
	}

	metrics.RecordLedgerTransaction(string(kind))
	log.Debug().
		Int64("user_id", userID).
		Int64("amount", amount).
		Str("kind", string(kind)).
		Str("reference", reference).
		Int64("balance", balance).
		Msg("Ledger transaction applied")

	return rec, nil
}

// nextBalance applies amount to a non-negative balance.
func nextBalance(balance, amount int64) (int64, error) {
	if amount > 0 && balance > math.MaxInt64-amount {
		return 0, ErrBalanceOverflow
	}
	if balance+amount < 0 {
		return 0, ErrInsufficientFunds
	}
	return balance + amount, nil
}

// Deposit credits amount to the user.
func (l *Ledger) Deposit(ctx context.Context, userID, amount int64) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	ref := fmt.Sprintf("deposit:%d", l.now().UnixNano())
	return l.ApplyTransaction(ctx, userID, amount, model.TxKindDeposit, ref)
}

// Withdraw debits amount from the user.
func (l *Ledger) Withdraw(ctx context.Context, userID, amount int64) (*model.Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	ref := fmt.Sprintf("withdrawal:%d", l.now().UnixNano())
	return l.ApplyTransaction(ctx, userID, -amount, model.TxKindWithdrawal, ref)
}

// HistoryEntry is a transaction with a human-readable description.
type HistoryEntry struct {
	*model.Transaction
	Description string
}

// History returns a page of the user's transactions, newest first.
func (l *Ledger) History(ctx context.Context, userID int64, limit, offset int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	w, err := l.wallets.GetByOwner(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	txs, err := l.txs.ListByWallet(ctx, w.ID, limit, offset)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, len(txs))
	for i, tx := range txs {
		entries[i] = HistoryEntry{Transaction: tx, Description: Describe(tx)}
	}
	return entries, nil
}

// Describe returns a short sentence for a transaction.
func Describe(tx *model.Transaction) string {
	amount := tx.Amount
	if amount < 0 {
		amount = -amount
	}
	switch tx.Kind {
	case model.TxKindStake:
		return fmt.Sprintf("Staked %d tokens", amount)
	case model.TxKindRefund:
		return fmt.Sprintf("Refunded %d tokens (draw)", amount)
	case model.TxKindWin:
		return fmt.Sprintf("Won %d tokens", amount)
	case model.TxKindDeposit:
		return fmt.Sprintf("Deposited %d tokens", amount)
	case model.TxKindWithdrawal:
		return fmt.Sprintf("Withdrew %d tokens", amount)
	case model.TxKindPlatformFee:
		return fmt.Sprintf("Platform fee of %d tokens", amount)
	default:
		return fmt.Sprintf("%s %d tokens", tx.Kind, tx.Amount)
	}
}

// Reconciliation compares a wallet balance with its transaction log.
type Reconciliation struct {
	UserID     int64
	Balance    int64
	LedgerSum  int64
	Consistent bool
}

// Reconcile checks that the user's balance equals the sum of their transactions.
func (l *Ledger) Reconcile(ctx context.Context, userID int64) (*Reconciliation, error) {
	var (
		w   *model.Wallet
		sum int64
	)
	// The row lock keeps balance and sum from the same instant.
	err := l.db.WithTx(ctx, func(tx pgx.Tx) error {
		wallets := l.wallets.WithTx(tx)
		if _, err := wallets.Ensure(ctx, userID); err != nil {
			return err
		}
		var err error
		if w, err = wallets.GetByOwnerForUpdate(ctx, userID); err != nil {
			return err
		}
		sum, err = l.txs.WithTx(tx).SumByWallet(ctx, w.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile wallet: %w", err)
	}

	r := &Reconciliation{
		UserID:     userID,
		Balance:    w.Balance,
		LedgerSum:  sum,
		Consistent: w.Balance == sum,
	}
	if !r.Consistent {
		log.Error().
			Int64("user_id", userID).
			Int64("balance", w.Balance).
			Int64("ledger_sum", sum).
			Msg("Wallet balance does not match transaction log")
	}
	return r, nil
}
