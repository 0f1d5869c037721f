// Package repository provides data access layer implementations.
//
// Every repository wraps a db.Querier, which is either the pool (for
// standalone reads) or a pgx.Tx obtained from db.Pool.WithTx. WithTx returns a
// copy bound to the transaction so a service can compose several repositories
// into one atomic unit.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stake-arena/internal/model"
	"stake-arena/internal/pkg/db"
)

// Common errors for repository operations.
var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrMatchNotFound     = errors.New("match not found")
	ErrGameStateNotFound = errors.New("game state not found")
	ErrResultNotFound    = errors.New("game result not found")
)

const walletColumns = `id, owner_id, balance, created_at, updated_at`

// WalletRepository handles wallet persistence.
type WalletRepository struct {
	q db.Querier
}

// NewWalletRepository creates a new WalletRepository instance.
func NewWalletRepository(q db.Querier) *WalletRepository {
	return &WalletRepository{q: q}
}

// WithTx returns a repository bound to tx.
func (r *WalletRepository) WithTx(tx pgx.Tx) *WalletRepository {
	return &WalletRepository{q: tx}
}

func scanWallet(row pgx.Row) (*model.Wallet, error) {
	var w model.Wallet
	err := row.Scan(&w.ID, &w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Ensure returns the owner's wallet, creating an empty one if none exists.
// Concurrent calls for the same owner converge on a single row through the
// unique constraint on owner_id.
func (r *WalletRepository) Ensure(ctx context.Context, ownerID int64) (*model.Wallet, error) {
	const insert = `
		INSERT INTO wallets (owner_id, balance, created_at, updated_at)
		VALUES ($1, 0, NOW(), NOW())
		ON CONFLICT (owner_id) DO NOTHING
	`
	if _, err := r.q.Exec(ctx, insert, ownerID); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return r.GetByOwner(ctx, ownerID)
}

// GetByOwner retrieves a wallet by its owner's user id.
// Returns ErrWalletNotFound if the wallet does not exist.
func (r *WalletRepository) GetByOwner(ctx context.Context, ownerID int64) (*model.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1`

	w, err := scanWallet(r.q.QueryRow(ctx, query, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// GetByOwnerForUpdate retrieves a wallet and locks its row until the
// surrounding transaction ends. Only meaningful inside WithTx.
func (r *WalletRepository) GetByOwnerForUpdate(ctx context.Context, ownerID int64) (*model.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE owner_id = $1 FOR UPDATE`

	w, err := scanWallet(r.q.QueryRow(ctx, query, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return w, nil
}

// SetBalance stores a new balance for the wallet and returns the updated row.
func (r *WalletRepository) SetBalance(ctx context.Context, walletID int64, balance int64) (*model.Wallet, error) {
	query := `
		UPDATE wallets
		SET balance = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + walletColumns

	w, err := scanWallet(r.q.QueryRow(ctx, query, walletID, balance))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to set balance: %w", err)
	}
	return w, nil
}
