// Integration tests run the match core against PostgreSQL in a container.
package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stake-arena/internal/config"
	"stake-arena/internal/model"
	"stake-arena/internal/notify"
	"stake-arena/internal/pkg/db"
	"stake-arena/internal/pkg/db/dbtest"
	"stake-arena/internal/pkg/lock"
	"stake-arena/internal/repository"
)

const platformID = int64(1)

type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (l *eventLog) Publish(_ context.Context, ev notify.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) types() []notify.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]notify.EventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

type arena struct {
	pool        *db.Pool
	ledger      *Ledger
	matchmaking *Matchmaking
	matches     *Matches
	settlement  *Settlement
	stats       *Stats
	events      *eventLog
}

func newArena(t *testing.T) *arena {
	t.Helper()
	pool := dbtest.New(t)

	wallets := repository.NewWalletRepository(pool)
	txs := repository.NewTransactionRepository(pool)
	matchRepo := repository.NewMatchRepository(pool)
	gameRepo := repository.NewGameRepository(pool)
	events := &eventLog{}

	ledger := NewLedger(pool, wallets, txs)
	settlement := NewSettlement(pool, ledger, matchRepo, gameRepo, events, config.SettlementConfig{
		PlatformAccountID: platformID,
		FeeBps:            1000,
	})
	return &arena{
		pool:   pool,
		ledger: ledger,
		matchmaking: NewMatchmaking(pool, ledger, matchRepo, gameRepo, events, config.MatchmakingConfig{
			CodeLength: 6,
			MinStake:   1,
		}),
		matches:    NewMatches(pool, matchRepo, gameRepo, settlement, events, lock.NewKeyed()),
		settlement: settlement,
		stats:      NewStats(matchRepo, txs),
		events:     events,
	}
}

func (a *arena) fund(t *testing.T, userID, amount int64) {
	t.Helper()
	_, err := a.ledger.Deposit(context.Background(), userID, amount)
	require.NoError(t, err)
}

func (a *arena) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	b, err := a.ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (a *arena) assertReconciled(t *testing.T, userIDs ...int64) {
	t.Helper()
	for _, id := range userIDs {
		r, err := a.ledger.Reconcile(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, r.Consistent, "user %d balance %d != ledger %d", id, r.Balance, r.LedgerSum)
	}
}

// readyMatch creates a match between creator and joiner and starts it.
func (a *arena) readyMatch(t *testing.T, creator, joiner, stake int64) *model.Match {
	t.Helper()
	ctx := context.Background()
	m, err := a.matchmaking.CreateMatch(ctx, creator, stake)
	require.NoError(t, err)
	m, err = a.matchmaking.JoinMatch(ctx, joiner, m.Code)
	require.NoError(t, err)
	require.Equal(t, model.MatchReady, m.Status)
	_, err = a.matches.StartMatch(ctx, creator, m.ID)
	require.NoError(t, err)
	return m
}

func (a *arena) play(t *testing.T, m *model.Match, moves ...mv) MoveOutcome {
	t.Helper()
	var last MoveOutcome
	for _, step := range moves {
		out, err := a.matches.SubmitMove(context.Background(), step.user, m.ID, step.pos)
		require.NoError(t, err)
		if r, ok := out.(MoveRejected); ok {
			t.Fatalf("move %d by %d rejected: %s", step.pos, step.user, r.Reason)
		}
		last = out
	}
	return last
}

type mv struct {
	user int64
	pos  int
}

func TestEndToEndWin(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()
	const (
		alice = int64(10)
		bob   = int64(20)
	)
	a.fund(t, alice, 1000)
	a.fund(t, bob, 1000)

	m, err := a.matchmaking.CreateMatch(ctx, alice, 100)
	require.NoError(t, err)
	assert.Equal(t, model.MatchWaiting, m.Status)
	assert.Len(t, m.Code, 6)
	assert.Equal(t, int64(900), a.balance(t, alice))

	m, err = a.matchmaking.JoinMatch(ctx, bob, m.Code)
	require.NoError(t, err)
	assert.Equal(t, model.MatchReady, m.Status)
	assert.Len(t, m.Participants, 2)
	assert.Equal(t, int64(900), a.balance(t, bob))

	_, err = a.matches.StartMatch(ctx, bob, m.ID)
	require.NoError(t, err)

	out := a.play(t, m, mv{alice, 0}, mv{bob, 3}, mv{alice, 1}, mv{bob, 4}, mv{alice, 2})

	finished, ok := out.(MoveFinished)
	require.True(t, ok, "expected MoveFinished, got %T", out)
	require.NoError(t, finished.SettlementErr)
	require.NotNil(t, finished.Result.WinnerID)
	assert.Equal(t, alice, *finished.Result.WinnerID)
	assert.Equal(t, "X", finished.Result.Outcome)
	assert.Equal(t, int64(180), finished.Payout.WinnerAmount)
	assert.Equal(t, int64(20), finished.Payout.PlatformFee)

	assert.Equal(t, int64(1080), a.balance(t, alice))
	assert.Equal(t, int64(900), a.balance(t, bob))
	assert.Equal(t, int64(20), a.balance(t, platformID))

	again, err := a.settlement.Settle(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, again.AlreadySettled)
	assert.Equal(t, int64(1080), a.balance(t, alice), "second settlement credits nothing")
	assert.Equal(t, int64(20), a.balance(t, platformID))

	res, err := a.matches.GetMatchResult(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, res.PaidOut)
	assert.Equal(t, int64(180), res.Payout.WinnerAmount)

	moves, err := a.matches.Moves(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, moves, 5)
	assert.Equal(t, []int{0, 3, 1, 4, 2}, []int{moves[0].Position, moves[1].Position, moves[2].Position, moves[3].Position, moves[4].Position})

	out, err = a.matches.SubmitMove(ctx, bob, m.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, MoveRejected{Reason: ErrNotOngoing}, out)

	assert.Equal(t, []notify.EventType{
		notify.EventJoined,
		notify.EventStarted,
		notify.EventMoved, notify.EventMoved, notify.EventMoved, notify.EventMoved,
		notify.EventFinished,
		notify.EventSettled,
	}, a.events.types())

	st, err := a.stats.PlayerStats(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, int64(80), st.Net)

	a.assertReconciled(t, alice, bob, platformID)
}

func TestDrawRefundsBothStakes(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()
	a.fund(t, 10, 100)
	a.fund(t, 20, 100)

	m := a.readyMatch(t, 10, 20, 100)

	// X O X / X O O / O X X
	out := a.play(t, m,
		mv{10, 0}, mv{20, 1}, mv{10, 2},
		mv{20, 4}, mv{10, 3}, mv{20, 5},
		mv{10, 7}, mv{20, 6}, mv{10, 8},
	)

	finished, ok := out.(MoveFinished)
	require.True(t, ok, "expected MoveFinished, got %T", out)
	assert.True(t, finished.Result.IsDraw())
	assert.Equal(t, model.OutcomeDraw, finished.Result.Outcome)
	assert.True(t, finished.Payout.Draw)

	assert.Equal(t, int64(100), a.balance(t, 10))
	assert.Equal(t, int64(100), a.balance(t, 20))
	assert.Equal(t, int64(0), a.balance(t, platformID))

	refunds, err := repository.NewTransactionRepository(a.pool).ListByReference(ctx, DrawReference(m.ID))
	require.NoError(t, err)
	assert.Len(t, refunds, 2)

	view, err := a.matches.GetMatchView(ctx, 20, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GameDraw, view.GameStatus)
	assert.Equal(t, "XOXXOOOXX", view.Board.String())

	a.assertReconciled(t, 10, 20)
}

func TestCreateMatchInsufficientFunds(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()
	a.fund(t, 10, 50)

	_, err := a.matchmaking.CreateMatch(ctx, 10, 100)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, CodeInsufficientFunds, CodeOf(err))
	assert.Equal(t, int64(50), a.balance(t, 10))

	open, err := a.matchmaking.ListOpenMatches(ctx)
	require.NoError(t, err)
	assert.Empty(t, open, "no match row survives a failed debit")

	_, err = a.matchmaking.CreateMatch(ctx, 10, 0)
	assert.ErrorIs(t, err, ErrInvalidStake)
}

func TestJoinMatchRules(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()
	a.fund(t, 10, 500)
	a.fund(t, 20, 500)
	a.fund(t, 30, 500)
	a.fund(t, 40, 10)

	m, err := a.matchmaking.CreateMatch(ctx, 10, 100)
	require.NoError(t, err)

	again, err := a.matchmaking.JoinMatch(ctx, 10, m.Code)
	require.NoError(t, err, "creator re-joining is idempotent")
	assert.Len(t, again.Participants, 1)
	assert.Equal(t, int64(400), a.balance(t, 10), "no second debit")

	_, err = a.matchmaking.JoinMatch(ctx, 40, m.Code)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = a.matchmaking.JoinMatch(ctx, 20, "nope99")
	assert.ErrorIs(t, err, ErrMatchNotFound)

	joined, err := a.matchmaking.JoinMatch(ctx, 20, m.Code)
	require.NoError(t, err)
	assert.Equal(t, model.MatchReady, joined.Status)

	again, err = a.matchmaking.JoinMatch(ctx, 20, m.Code)
	require.NoError(t, err)
	assert.Equal(t, model.MatchReady, again.Status)
	assert.Equal(t, int64(400), a.balance(t, 20), "no second debit")

	_, err = a.matchmaking.JoinMatch(ctx, 30, m.Code)
	assert.ErrorIs(t, err, ErrMatchFull)
	assert.Equal(t, CodeInvalidTransition, CodeOf(err))

	a.assertReconciled(t, 10, 20, 30, 40)
}

func TestConcurrentJoinsSeatExactlyOne(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()
	a.fund(t, 1000, 100)

	m, err := a.matchmaking.CreateMatch(ctx, 1000, 100)
	require.NoError(t, err)

	const joiners = 8
	for i := int64(1); i <= joiners; i++ {
		a.fund(t, 1000+i, 100)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		full      int
	)
	wg.Add(joiners)
	for i := int64(1); i <= joiners; i++ {
		go func(uid int64) {
			defer wg.Done()
			_, err := a.matchmaking.JoinMatch(ctx, uid, m.Code)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrMatchFull), errors.Is(err, ErrNotWaiting):
				full++
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}(1000 + i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, joiners-1, full)

	view, err := a.matches.GetMatchView(ctx, 1000, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchReady, view.Match.Status)
	assert.Len(t, view.Match.Participants, 2)

	var debited int
	for i := int64(1); i <= joiners; i++ {
		if a.balance(t, 1000+i) == 0 {
			debited++
		}
	}
	assert.Equal(t, 1, debited)
}

func TestConcurrentMovesAcceptOne(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()
	a.fund(t, 10, 100)
	a.fund(t, 20, 100)
	m := a.readyMatch(t, 10, 20, 100)

	const attempts = 6
	outcomes := make([]MoveOutcome, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			out, err := a.matches.SubmitMove(ctx, 10, m.ID, i)
			if assert.NoError(t, err) {
				outcomes[i] = out
			}
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, out := range outcomes {
		switch o := out.(type) {
		case MoveAccepted:
			accepted++
			assert.Equal(t, "O", o.Turn.String())
		case MoveRejected:
			assert.Equal(t, ErrNotYourTurn, o.Reason)
		}
	}
	assert.Equal(t, 1, accepted)

	moves, err := a.matches.Moves(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, moves, 1)
}

func TestMoveRejections(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()
	a.fund(t, 10, 100)
	a.fund(t, 20, 100)

	m, err := a.matchmaking.CreateMatch(ctx, 10, 100)
	require.NoError(t, err)
	m, err = a.matchmaking.JoinMatch(ctx, 20, m.Code)
	require.NoError(t, err)

	out, err := a.matches.SubmitMove(ctx, 10, m.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, MoveRejected{Reason: ErrNotOngoing}, out, "ready is not started")

	_, err = a.matches.StartMatch(ctx, 10, m.ID)
	require.NoError(t, err)

	tests := []struct {
		name string
		user int64
		pos  int
		want *Error
	}{
		{"out of range", 10, 9, ErrInvalidPosition},
		{"negative", 10, -1, ErrInvalidPosition},
		{"stranger", 99, 0, ErrNotParticipant},
		{"wrong turn", 20, 0, ErrNotYourTurn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := a.matches.SubmitMove(ctx, tt.user, m.ID, tt.pos)
			require.NoError(t, err)
			assert.Equal(t, MoveRejected{Reason: tt.want}, out)
		})
	}

	a.play(t, m, mv{10, 4})
	out, err = a.matches.SubmitMove(ctx, 20, m.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, MoveRejected{Reason: ErrCellOccupied}, out)

	out, err = a.matches.SubmitMove(ctx, 20, 424242, 0)
	require.NoError(t, err)
	assert.Equal(t, MoveRejected{Reason: ErrMatchNotFound}, out)
}

func TestStartMatchTransitions(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()
	a.fund(t, 10, 100)
	a.fund(t, 20, 100)

	m, err := a.matchmaking.CreateMatch(ctx, 10, 100)
	require.NoError(t, err)

	_, err = a.matches.StartMatch(ctx, 10, m.ID)
	assert.ErrorIs(t, err, ErrCannotStart, "waiting match cannot start")

	_, err = a.matchmaking.JoinMatch(ctx, 20, m.Code)
	require.NoError(t, err)

	_, err = a.matches.StartMatch(ctx, 99, m.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)

	view, err := a.matches.StartMatch(ctx, 10, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchOngoing, view.Match.Status)
	assert.Equal(t, "X", view.Turn.String())

	view, err = a.matches.StartMatch(ctx, 20, m.ID)
	require.NoError(t, err, "starting an ongoing match is a no-op")
	assert.Equal(t, model.MatchOngoing, view.Match.Status)

	started := 0
	for _, typ := range a.events.types() {
		if typ == notify.EventStarted {
			started++
		}
	}
	assert.Equal(t, 1, started)

	_, err = a.matches.GetMatchView(ctx, 99, m.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestSettleRejectsUnfinished(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()
	a.fund(t, 10, 100)

	m, err := a.matchmaking.CreateMatch(ctx, 10, 100)
	require.NoError(t, err)

	_, err = a.settlement.Settle(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFinished)

	_, err = a.settlement.Settle(ctx, 424242)
	assert.ErrorIs(t, err, ErrMatchNotFound)

	_, err = a.matches.GetMatchResult(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestConcurrentSettlementCreditsOnce(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()
	a.fund(t, 10, 100)
	a.fund(t, 20, 100)

	// No settlement on the move path so the match is left pending.
	a.matches.settlement = nil
	m := a.readyMatch(t, 10, 20, 100)
	out := a.play(t, m, mv{10, 0}, mv{20, 3}, mv{10, 1}, mv{20, 4}, mv{10, 2})
	require.IsType(t, MoveFinished{}, out)

	pending, err := a.settlement.PendingMatches(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{m.ID}, pending)

	const workers = 5
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			p, err := a.settlement.Settle(ctx, m.ID)
			if !assert.NoError(t, err) {
				return
			}
			if !p.AlreadySettled {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, settled)
	assert.Equal(t, int64(180), a.balance(t, 10))
	assert.Equal(t, int64(20), a.balance(t, platformID))

	pending, err = a.settlement.PendingMatches(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	a.assertReconciled(t, 10, 20, platformID)
}

func TestRematch(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()
	a.fund(t, 10, 300)
	a.fund(t, 20, 300)

	m := a.readyMatch(t, 10, 20, 100)

	_, err := a.matchmaking.Rematch(ctx, 20, m.ID)
	assert.ErrorIs(t, err, ErrNotFinished)

	a.play(t, m, mv{10, 0}, mv{20, 3}, mv{10, 1}, mv{20, 4}, mv{10, 2})

	_, err = a.matchmaking.Rematch(ctx, 99, m.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)

	next, err := a.matchmaking.Rematch(ctx, 20, m.ID)
	require.NoError(t, err)
	assert.NotEqual(t, m.ID, next.ID)
	assert.Equal(t, int64(100), next.Stake)
	assert.Equal(t, int64(100), a.balance(t, 20), "300 - 100 lost - 100 rematch stake")
}

func TestLedgerDepositWithdrawHistory(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()

	_, err := a.ledger.Deposit(ctx, 10, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	a.fund(t, 10, 500)
	_, err = a.ledger.Withdraw(ctx, 10, 600)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	_, err = a.ledger.Withdraw(ctx, 10, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(300), a.balance(t, 10))

	_, err = a.ledger.ApplyTransaction(ctx, 10, 5, model.TxKind("BONUS"), "x")
	assert.ErrorIs(t, err, ErrInvalidKind)

	history, err := a.ledger.History(ctx, 10, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Withdrew 200 tokens", history[0].Description)
	assert.Equal(t, "Deposited 500 tokens", history[1].Description)

	none, err := a.ledger.History(ctx, 77, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	a.assertReconciled(t, 10)
}

func TestEnsureWalletConcurrent(t *testing.T) {
	a := newArena(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		go func() {
			defer wg.Done()
			_, err := a.ledger.ApplyTransaction(ctx, 55, 10, model.TxKindDeposit, "deposit:test")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), a.balance(t, 55))
	a.assertReconciled(t, 55)
}
