package handler

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"

	"stake-arena/internal/model"
	"stake-arena/internal/notify"
	"stake-arena/internal/service"
)

const lobbyLimit = 15

// MatchHandler handles match commands.
type MatchHandler struct {
	matchmaking *service.Matchmaking
	matches     *service.Matches
}

// NewMatchHandler creates a new MatchHandler.
func NewMatchHandler(matchmaking *service.Matchmaking, matches *service.Matches) *MatchHandler {
	return &MatchHandler{matchmaking: matchmaking, matches: matches}
}

// HandleCreate handles the /create command.
// Format: /create <stake>
func (h *MatchHandler) HandleCreate(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /create <stake>\nExample: /create 100")
	}
	stake, err := parseAmount(args[0])
	if err != nil {
		return c.Reply(err.Error())
	}

	m, err := h.matchmaking.CreateMatch(context.Background(), sender.ID, stake)
	if err != nil {
		return replyError(c, "create", err)
	}

	return c.Reply(fmt.Sprintf(
		"🎮 Match #%d created\n\n"+
			"🔑 Code: %s\n"+
			"💰 Stake: %d tokens\n"+
			"You play X. Share /join %s with your opponent.",
		m.ID, m.Code, m.Stake, m.Code,
	))
}

// HandleJoin handles the /join command.
// Format: /join <code>
func (h *MatchHandler) HandleJoin(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /join <code>")
	}

	m, err := h.matchmaking.JoinMatch(context.Background(), sender.ID, args[0])
	if err != nil {
		return replyError(c, "join", err)
	}

	p, _ := m.Participant(sender.ID)
	msg := fmt.Sprintf("✅ Seated in match #%d as %s (%s)", m.ID, p.Symbol, m.Status)
	if m.Status == model.MatchReady {
		msg += fmt.Sprintf("\nSend /begin %d to start.", m.ID)
	}
	return c.Reply(msg)
}

// HandleLobby handles the /lobby command.
func (h *MatchHandler) HandleLobby(c tele.Context) error {
	matches, err := h.matchmaking.ListOpenMatches(context.Background())
	if err != nil {
		return replyError(c, "lobby", err)
	}
	if len(matches) == 0 {
		return c.Reply("📭 No open matches. Start one with /create <stake>")
	}

	var b strings.Builder
	b.WriteString("🏟 Open matches\n━━━━━━━━━━━━━━━\n")
	for i, m := range matches {
		if i == lobbyLimit {
			fmt.Fprintf(&b, "…and %d more\n", len(matches)-lobbyLimit)
			break
		}
		fmt.Fprintf(&b, "#%d  %s  %d tokens  %d/2  %s\n", m.ID, m.Code, m.Stake, len(m.Participants), m.Status)
	}
	return c.Reply(b.String())
}

// HandleBegin handles the /begin command.
// Format: /begin <match_id>
func (h *MatchHandler) HandleBegin(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /begin <match_id>")
	}
	id, err := parseMatchID(args[0])
	if err != nil {
		return c.Reply(err.Error())
	}

	view, err := h.matches.StartMatch(context.Background(), sender.ID, id)
	if err != nil {
		return replyError(c, "begin", err)
	}
	return c.Reply(
		fmt.Sprintf("▶️ Match #%d is on, %s to move", id, view.Turn),
		BuildBoardKeyboard(id, view.Board),
	)
}

// HandleMove handles the /move command.
// Format: /move <match_id> <cell 1-9>
func (h *MatchHandler) HandleMove(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 2 {
		return c.Reply("❌ Usage: /move <match_id> <cell 1-9>")
	}
	id, err := parseMatchID(args[0])
	if err != nil {
		return c.Reply(err.Error())
	}
	pos, err := parsePosition(args[1])
	if err != nil {
		return c.Reply(err.Error())
	}

	out, err := h.matches.SubmitMove(context.Background(), sender.ID, id, pos)
	if err != nil {
		return replyError(c, "move", err)
	}
	if a, ok := out.(service.MoveAccepted); ok {
		return c.Reply(formatOutcome(id, sender.ID, out), BuildBoardKeyboard(id, a.Board))
	}
	return c.Reply(formatOutcome(id, sender.ID, out))
}

// HandleMoveCallback handles taps on the board keyboard.
func (h *MatchHandler) HandleMoveCallback(c tele.Context) error {
	callback := c.Callback()
	sender := c.Sender()
	if callback == nil || sender == nil {
		return nil
	}

	id, pos, ok := DecodeMoveCallback(callback.Data)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "❌ Invalid action"})
	}

	out, err := h.matches.SubmitMove(context.Background(), sender.ID, id, pos)
	if err != nil {
		logError("move", err)
		return c.Respond(&tele.CallbackResponse{Text: "❌ " + capitalize(service.ReasonOf(err)), ShowAlert: true})
	}

	switch o := out.(type) {
	case service.MoveRejected:
		return c.Respond(&tele.CallbackResponse{Text: "❌ " + capitalize(o.Reason.Reason)})
	case service.MoveAccepted:
		_ = c.Respond()
		return c.Edit(formatOutcome(id, sender.ID, out), BuildBoardKeyboard(id, o.Board))
	default:
		_ = c.Respond()
		return c.Edit(formatOutcome(id, sender.ID, out))
	}
}

// HandleBoard handles the /board command.
// Format: /board <match_id>
func (h *MatchHandler) HandleBoard(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /board <match_id>")
	}
	id, err := parseMatchID(args[0])
	if err != nil {
		return c.Reply(err.Error())
	}

	view, err := h.matches.GetMatchView(context.Background(), sender.ID, id)
	if err != nil {
		return replyError(c, "board", err)
	}

	if view.Match.Status == model.MatchOngoing {
		return c.Reply(
			fmt.Sprintf("🎮 Match #%d, stake %d, %s to move", view.Match.ID, view.Match.Stake, view.Turn),
			BuildBoardKeyboard(view.Match.ID, view.Board),
		)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎮 Match #%d (%s), stake %d\n", view.Match.ID, view.Match.Status, view.Match.Stake)
	b.WriteString(notify.RenderBoard(view.Board.String()))
	switch {
	case view.Result != nil && view.Result.IsDraw():
		b.WriteString("\n🤝 Draw")
	case view.Result != nil:
		fmt.Fprintf(&b, "\n🏆 Won by %s", view.Result.Outcome)
	}
	return c.Reply(b.String())
}

// HandleResult handles the /result command.
// Format: /result <match_id>
func (h *MatchHandler) HandleResult(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /result <match_id>")
	}
	id, err := parseMatchID(args[0])
	if err != nil {
		return c.Reply(err.Error())
	}

	res, err := h.matches.GetMatchResult(context.Background(), id)
	if err != nil {
		return replyError(c, "result", err)
	}

	status := "⏳ payout pending"
	if res.PaidOut {
		status = "✅ paid out"
	}
	if res.Payout.Draw {
		return c.Reply(fmt.Sprintf("🤝 Match #%d drawn, %d tokens refunded to each player (%s)", id, res.Payout.Refund, status))
	}
	return c.Reply(fmt.Sprintf(
		"🏆 Match #%d won by player %d\n"+
			"💰 Pot: %d  Winner: %d  Fee: %d\n%s",
		id, res.Payout.WinnerID, res.Payout.Pot, res.Payout.WinnerAmount, res.Payout.PlatformFee, status,
	))
}

// HandleRematch handles the /rematch command.
// Format: /rematch <match_id>
func (h *MatchHandler) HandleRematch(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /rematch <match_id>")
	}
	id, err := parseMatchID(args[0])
	if err != nil {
		return c.Reply(err.Error())
	}

	m, err := h.matchmaking.Rematch(context.Background(), sender.ID, id)
	if err != nil {
		return replyError(c, "rematch", err)
	}
	return c.Reply(fmt.Sprintf("🔁 Rematch #%d created, code %s, stake %d tokens", m.ID, m.Code, m.Stake))
}

// formatOutcome renders a move outcome for the player who made it.
func formatOutcome(matchID, userID int64, out service.MoveOutcome) string {
	switch o := out.(type) {
	case service.MoveAccepted:
		return fmt.Sprintf("✏️ Match #%d, %s to move", matchID, o.Turn)
	case service.MoveFinished:
		var b strings.Builder
		b.WriteString(notify.RenderBoard(o.Board.String()))
		b.WriteString("\n")
		switch {
		case o.Result.IsDraw():
			b.WriteString("🤝 Draw, stakes refunded")
		case *o.Result.WinnerID == userID:
			b.WriteString("🏆 You win!")
		default:
			b.WriteString("😞 You lose")
		}
		switch {
		case o.SettlementErr != nil:
			b.WriteString("\n⏳ Payout pending, it will be retried")
		case o.Payout != nil && !o.Payout.Draw:
			fmt.Fprintf(&b, "\n💰 %d tokens to the winner", o.Payout.WinnerAmount)
		}
		return b.String()
	case service.MoveRejected:
		return "❌ " + capitalize(o.Reason.Reason)
	default:
		return ""
	}
}
