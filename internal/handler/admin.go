package handler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"stake-arena/internal/service"
)

// AdminHandler handles admin-only ledger commands.
type AdminHandler struct {
	ledger *service.Ledger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(ledger *service.Ledger) *AdminHandler {
	return &AdminHandler{ledger: ledger}
}

// HandleDeposit handles the /deposit command.
// Format: /deposit <user_id> <amount>
func (h *AdminHandler) HandleDeposit(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	targetID, amount, err := parseAdminArgs(c.Args())
	if err != nil {
		return c.Reply(err.Error())
	}

	ctx := context.Background()
	if _, err := h.ledger.Deposit(ctx, targetID, amount); err != nil {
		return replyError(c, "deposit", err)
	}
	balance, err := h.ledger.GetBalance(ctx, targetID)
	if err != nil {
		return replyError(c, "deposit", err)
	}

	log.Info().
		Int64("admin_id", sender.ID).
		Int64("target_id", targetID).
		Int64("amount", amount).
		Str("operation", "deposit").
		Msg("Admin operation executed")

	return c.Reply(fmt.Sprintf(
		"✅ Deposit complete\n\n"+
			"👤 User: %d\n"+
			"➕ Added: %d tokens\n"+
			"💰 Balance: %d tokens",
		targetID, amount, balance,
	))
}

// HandleReconcile handles the /reconcile command.
// Format: /reconcile <user_id>
func (h *AdminHandler) HandleReconcile(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /reconcile <user_id>")
	}
	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("❌ User id must be a number")
	}

	r, err := h.ledger.Reconcile(context.Background(), targetID)
	if err != nil {
		return replyError(c, "reconcile", err)
	}

	mark := "✅"
	if !r.Consistent {
		mark = "⚠️"
	}
	return c.Reply(fmt.Sprintf("%s User %d: balance %d, ledger %d", mark, r.UserID, r.Balance, r.LedgerSum))
}

// parseAdminArgs parses "<user_id> <amount>".
func parseAdminArgs(args []string) (int64, int64, error) {
	if len(args) < 2 {
		return 0, 0, fmt.Errorf("❌ Usage: /deposit <user_id> <amount>\nExample: /deposit 123456789 100")
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("❌ User id must be a number")
	}

	amount, err := parseAmount(args[1])
	if err != nil {
		return 0, 0, err
	}

	return targetID, amount, nil
}
