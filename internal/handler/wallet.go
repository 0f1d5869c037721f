package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"stake-arena/internal/service"
)

const historyPageSize = 10

// WalletHandler handles balance and ledger commands.
type WalletHandler struct {
	ledger *service.Ledger
	stats  *service.Stats
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledger *service.Ledger, stats *service.Stats) *WalletHandler {
	return &WalletHandler{ledger: ledger, stats: stats}
}

// HandleBalance handles the /balance command.
func (h *WalletHandler) HandleBalance(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	balance, err := h.ledger.GetBalance(context.Background(), sender.ID)
	if err != nil {
		return replyError(c, "balance", err)
	}
	return c.Reply(fmt.Sprintf("💰 Balance: %d tokens", balance))
}

// HandleWithdraw handles the /withdraw command.
// Format: /withdraw <amount>
func (h *WalletHandler) HandleWithdraw(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /withdraw <amount>")
	}
	amount, err := parseAmount(args[0])
	if err != nil {
		return c.Reply(err.Error())
	}

	ctx := context.Background()
	if _, err := h.ledger.Withdraw(ctx, sender.ID, amount); err != nil {
		return replyError(c, "withdraw", err)
	}
	balance, err := h.ledger.GetBalance(ctx, sender.ID)
	if err != nil {
		return replyError(c, "withdraw", err)
	}

	log.Info().Int64("user_id", sender.ID).Int64("amount", amount).Msg("Withdrawal executed")
	return c.Reply(fmt.Sprintf("✅ Withdrew %d tokens\n💰 Balance: %d tokens", amount, balance))
}

// HandleHistory handles the /history command.
// Format: /history [page]
func (h *WalletHandler) HandleHistory(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	page := parsePage(c.Args())
	entries, err := h.ledger.History(context.Background(), sender.ID, historyPageSize, (page-1)*historyPageSize)
	if err != nil {
		return replyError(c, "history", err)
	}
	if len(entries) == 0 {
		return c.Reply("📭 No transactions")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📜 Transactions (page %d)\n━━━━━━━━━━━━━━━\n", page)
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %+d  %s\n", e.CreatedAt.Format("01-02 15:04"), e.Amount, e.Description)
	}
	return c.Reply(b.String())
}

// HandleStats handles the /stats command.
func (h *WalletHandler) HandleStats(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	st, err := h.stats.PlayerStats(context.Background(), sender.ID)
	if err != nil {
		return replyError(c, "stats", err)
	}

	return c.Reply(fmt.Sprintf(
		"📊 Stats\n"+
			"━━━━━━━━━━━━━━━\n"+
			"🎮 Played: %d (in play: %d)\n"+
			"🏆 Wins: %d  ❌ Losses: %d  🤝 Draws: %d\n"+
			"📈 Win rate: %.0f%%\n"+
			"💰 Net: %+d tokens\n"+
			"🔥 Streak: %d (best %d)",
		st.Played, st.InPlay, st.Wins, st.Losses, st.Draws,
		st.WinRate()*100, st.Net, st.CurrentStreak, st.BestStreak,
	))
}
