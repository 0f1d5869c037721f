// Package handler provides Telegram bot command handlers for the arena.
package handler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"stake-arena/internal/service"
)

// parseAmount parses a positive token amount.
func parseAmount(arg string) (int64, error) {
	amount, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("❌ Amount must be a whole number")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("❌ Amount must be greater than 0")
	}
	return amount, nil
}

// parseMatchID accepts "42" or "#42".
func parseMatchID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(arg), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("❌ Match id must be a positive number")
	}
	return id, nil
}

// parsePosition converts a 1-9 cell number, counted left to right and top to
// bottom, into a 0-8 board index.
func parsePosition(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 || n > 9 {
		return 0, fmt.Errorf("❌ Cell must be a number from 1 to 9")
	}
	return n - 1, nil
}

// parsePage parses an optional 1-based page number.
func parsePage(args []string) int {
	if len(args) == 0 {
		return 1
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// replyError answers with the reason of a domain error, or a generic message
// for infrastructure failures, which are logged.
func replyError(c tele.Context, op string, err error) error {
	if _, ok := service.AsError(err); !ok {
		ev := log.Error().Err(err).Str("operation", op)
		if s := c.Sender(); s != nil {
			ev = ev.Int64("user_id", s.ID)
		}
		ev.Msg("Command failed")
	}
	return c.Reply("❌ " + capitalize(service.ReasonOf(err)))
}

// logError logs err unless it is a domain error shown to the user.
func logError(op string, err error) {
	if _, ok := service.AsError(err); !ok {
		log.Error().Err(err).Str("operation", op).Msg("Callback failed")
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
