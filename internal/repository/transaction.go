package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stake-arena/internal/model"
	"stake-arena/internal/pkg/db"
)

const transactionColumns = `id, wallet_id, user_id, amount, kind, reference, created_at`

// TransactionRepository handles the append-only transaction log.
// Rows are only ever inserted; nothing here updates or deletes them.
type TransactionRepository struct {
	q db.Querier
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(q db.Querier) *TransactionRepository {
	return &TransactionRepository{q: q}
}

// WithTx returns a repository bound to tx.
func (r *TransactionRepository) WithTx(tx pgx.Tx) *TransactionRepository {
	return &TransactionRepository{q: tx}
}

// Create appends a transaction record.
func (r *TransactionRepository) Create(ctx context.Context, walletID, userID, amount int64, kind model.TxKind, reference string) (*model.Transaction, error) {
	query := `
		INSERT INTO wallet_transactions (wallet_id, user_id, amount, kind, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING ` + transactionColumns

	var tx model.Transaction
	err := r.q.QueryRow(ctx, query, walletID, userID, amount, string(kind), reference).Scan(
		&tx.ID,
		&tx.WalletID,
		&tx.UserID,
		&tx.Amount,
		&tx.Kind,
		&tx.Reference,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	return &tx, nil
}

// ListByWallet retrieves a page of transactions for a wallet, newest first.
func (r *TransactionRepository) ListByWallet(ctx context.Context, walletID int64, limit, offset int) ([]*model.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	return r.list(ctx, query, walletID, limit, offset)
}

// ListByReference retrieves every transaction carrying the given reference, oldest first.
func (r *TransactionRepository) ListByReference(ctx context.Context, reference string) ([]*model.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE reference = $1
		ORDER BY id
	`
	return r.list(ctx, query, reference)
}

func (r *TransactionRepository) list(ctx context.Context, query string, args ...any) ([]*model.Transaction, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var transactions []*model.Transaction
	for rows.Next() {
		var tx model.Transaction
		err := rows.Scan(
			&tx.ID,
			&tx.WalletID,
			&tx.UserID,
			&tx.Amount,
			&tx.Kind,
			&tx.Reference,
			&tx.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, &tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return transactions, nil
}

// SumByWallet returns the sum of all transaction amounts for a wallet.
func (r *TransactionRepository) SumByWallet(ctx context.Context, walletID int64) (int64, error) {
	const query = `SELECT COALESCE(SUM(amount), 0) FROM wallet_transactions WHERE wallet_id = $1`

	var sum int64
	if err := r.q.QueryRow(ctx, query, walletID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

// SumMatchFlows returns the net amount a user moved through match
// transactions (stakes, wins and refunds).
func (r *TransactionRepository) SumMatchFlows(ctx context.Context, userID int64) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(amount), 0)
		FROM wallet_transactions
		WHERE user_id = $1 AND kind IN ('STAKE', 'WIN', 'REFUND')
	`

	var sum int64
	if err := r.q.QueryRow(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum match flows: %w", err)
	}
	return sum, nil
}
