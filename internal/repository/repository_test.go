// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stake-arena/internal/model"
	"stake-arena/internal/pkg/db/dbtest"
)

// ============================================================================
// WalletRepository Tests
// ============================================================================

func TestWalletRepository_Ensure(t *testing.T) {
	pool := dbtest.New(t)
	repo := NewWalletRepository(pool)
	ctx := context.Background()

	w, err := repo.Ensure(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), w.OwnerID)
	assert.Equal(t, int64(0), w.Balance)

	again, err := repo.Ensure(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, w.ID, again.ID)

	_, err = repo.GetByOwner(ctx, 99999)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestWalletRepository_EnsureConcurrent(t *testing.T) {
	pool := dbtest.New(t)
	repo := NewWalletRepository(pool)
	ctx := context.Background()

	const workers = 10
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			w, err := repo.Ensure(ctx, 7)
			if assert.NoError(t, err) {
				ids[i] = w.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM wallets WHERE owner_id = 7`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWalletRepository_SetBalanceInTx(t *testing.T) {
	pool := dbtest.New(t)
	wallets := NewWalletRepository(pool)
	txs := NewTransactionRepository(pool)
	ctx := context.Background()

	w, err := wallets.Ensure(ctx, 1)
	require.NoError(t, err)

	err = pool.WithTx(ctx, func(tx pgx.Tx) error {
		locked, err := wallets.WithTx(tx).GetByOwnerForUpdate(ctx, 1)
		if err != nil {
			return err
		}
		if _, err := wallets.WithTx(tx).SetBalance(ctx, locked.ID, locked.Balance+250); err != nil {
			return err
		}
		_, err = txs.WithTx(tx).Create(ctx, locked.ID, 1, 250, model.TxKindDeposit, "deposit:1")
		return err
	})
	require.NoError(t, err)

	got, err := wallets.GetByOwner(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.Balance)

	sum, err := txs.SumByWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Balance, sum)
}

// ============================================================================
// TransactionRepository Tests
// ============================================================================

func TestTransactionRepository_ListAndSums(t *testing.T) {
	pool := dbtest.New(t)
	wallets := NewWalletRepository(pool)
	txs := NewTransactionRepository(pool)
	ctx := context.Background()

	w, err := wallets.Ensure(ctx, 5)
	require.NoError(t, err)

	entries := []struct {
		amount int64
		kind   model.TxKind
		ref    string
	}{
		{500, model.TxKindDeposit, "deposit:1"},
		{-100, model.TxKindStake, "match:1"},
		{180, model.TxKindWin, "match:1"},
		{-50, model.TxKindWithdrawal, "withdrawal:1"},
	}
	for _, e := range entries {
		_, err := txs.Create(ctx, w.ID, 5, e.amount, e.kind, e.ref)
		require.NoError(t, err)
	}

	page, err := txs.ListByWallet(ctx, w.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, model.TxKindWithdrawal, page[0].Kind, "newest first")
	assert.Equal(t, model.TxKindWin, page[1].Kind)

	byRef, err := txs.ListByReference(ctx, "match:1")
	require.NoError(t, err)
	require.Len(t, byRef, 2)
	assert.Equal(t, model.TxKindStake, byRef[0].Kind)

	sum, err := txs.SumByWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(530), sum)

	flows, err := txs.SumMatchFlows(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(80), flows)
}

// ============================================================================
// MatchRepository and GameRepository Tests
// ============================================================================

func TestMatchRepository_CreateAndCodeConflict(t *testing.T) {
	pool := dbtest.New(t)
	repo := NewMatchRepository(pool)
	ctx := context.Background()

	m, err := repo.Create(ctx, "ABC123", 100, 1)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, model.MatchWaiting, m.Status)
	assert.False(t, m.PaidOut)
	assert.Nil(t, m.FinishedAt)

	dup, err := repo.Create(ctx, "ABC123", 50, 2)
	require.NoError(t, err)
	assert.Nil(t, dup, "duplicate code yields no row")

	_, err = repo.GetByCode(ctx, "NOPE00")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

func TestMatchRepository_Lifecycle(t *testing.T) {
	pool := dbtest.New(t)
	matches := NewMatchRepository(pool)
	games := NewGameRepository(pool)
	ctx := context.Background()

	m, err := matches.Create(ctx, "LIFE01", 100, 1)
	require.NoError(t, err)
	_, err = matches.AddParticipant(ctx, m.ID, 1, "X")
	require.NoError(t, err)
	_, err = matches.AddParticipant(ctx, m.ID, 2, "O")
	require.NoError(t, err)
	require.NoError(t, matches.UpdateStatus(ctx, m.ID, model.MatchReady))

	_, err = games.CreateState(ctx, m.ID, "---------", "X", model.GameReady)
	require.NoError(t, err)

	open, err := matches.ListByStatus(ctx, model.MatchWaiting, model.MatchReady)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Len(t, open[0].Participants, 2)

	got, err := matches.GetByCode(ctx, "LIFE01")
	require.NoError(t, err)
	assert.Equal(t, model.MatchReady, got.Status)
	p, ok := got.Participant(2)
	require.True(t, ok)
	assert.Equal(t, "O", p.Symbol)

	require.NoError(t, games.UpdateState(ctx, m.ID, "X--------", "O", model.GameOngoing))
	_, err = games.AppendMove(ctx, m.ID, 1, 0, "X")
	require.NoError(t, err)
	_, err = games.AppendMove(ctx, m.ID, 2, 4, "O")
	require.NoError(t, err)

	moves, err := games.Moves(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, 0, moves[0].Position)
	assert.Equal(t, 4, moves[1].Position)

	_, err = games.GetResult(ctx, m.ID)
	assert.ErrorIs(t, err, ErrResultNotFound)

	unsettled, err := matches.ListUnsettled(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unsettled, "no result yet")

	winner := int64(1)
	_, err = games.CreateResult(ctx, m.ID, &winner, "X")
	require.NoError(t, err)
	require.NoError(t, matches.UpdateStatus(ctx, m.ID, model.MatchFinished))

	finished, err := matches.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.NotNil(t, finished.FinishedAt)

	unsettled, err = matches.ListUnsettled(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{m.ID}, unsettled)

	flipped, err := matches.MarkPaidOut(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = matches.MarkPaidOut(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, flipped, "paid_out flips once")

	records, err := matches.ListPlayerRecords(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Finished)
	require.NotNil(t, records[0].WinnerID)
	assert.Equal(t, int64(1), *records[0].WinnerID)
}

func TestGameRepository_DuplicatePositionRejected(t *testing.T) {
	pool := dbtest.New(t)
	matches := NewMatchRepository(pool)
	games := NewGameRepository(pool)
	ctx := context.Background()

	m, err := matches.Create(ctx, "DUPPOS", 10, 1)
	require.NoError(t, err)

	_, err = games.AppendMove(ctx, m.ID, 1, 3, "X")
	require.NoError(t, err)
	_, err = games.AppendMove(ctx, m.ID, 2, 3, "O")
	assert.Error(t, err)
}
