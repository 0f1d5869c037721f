package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v3"
)

// Sender is the part of *tele.Bot the Telegram publisher needs.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramPublisher relays events to the match participants and to a fixed
// set of broadcast chats. Participant ids double as private chat ids.
type TelegramPublisher struct {
	sender Sender
	chats  []int64
}

// NewTelegramPublisher creates a publisher sending through s.
func NewTelegramPublisher(s Sender, chats []int64) *TelegramPublisher {
	return &TelegramPublisher{sender: s, chats: chats}
}

// Publish implements Publisher.
func (p *TelegramPublisher) Publish(ctx context.Context, ev Event) error {
	text := FormatEvent(ev)
	if text == "" {
		return nil
	}

	var errs []error
	for _, id := range p.recipients(ev) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.sender.Send(tele.ChatID(id), text); err != nil {
			errs = append(errs, fmt.Errorf("send to %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (p *TelegramPublisher) recipients(ev Event) []int64 {
	seen := make(map[int64]bool, len(ev.Participants)+len(p.chats))
	var out []int64
	for _, ids := range [][]int64{ev.Participants, p.chats} {
		for _, id := range ids {
			if id == 0 || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// FormatEvent renders ev as a chat message. Unknown types render empty.
func FormatEvent(ev Event) string {
	var b strings.Builder
	switch ev.Type {
	case EventJoined:
		fmt.Fprintf(&b, "🎮 Match %s: player %d joined (%s)", matchLabel(ev), ev.ActorID, ev.Status)
	case EventStarted:
		fmt.Fprintf(&b, "▶️ Match %s started, %s to move", matchLabel(ev), ev.Turn)
	case EventMoved:
		fmt.Fprintf(&b, "✏️ Match %s: %s to move", matchLabel(ev), ev.Turn)
	case EventFinished:
		if ev.WinnerID == nil {
			fmt.Fprintf(&b, "🤝 Match %s ended in a draw", matchLabel(ev))
		} else {
			fmt.Fprintf(&b, "🏆 Match %s won by player %d (%s)", matchLabel(ev), *ev.WinnerID, ev.Outcome)
		}
	case EventSettled:
		if ev.Payout == nil {
			return ""
		}
		if ev.Payout.Draw {
			fmt.Fprintf(&b, "💰 Match %s settled: %d tokens refunded to each player", matchLabel(ev), ev.Payout.Refund)
		} else {
			fmt.Fprintf(&b, "💰 Match %s settled: player %d won %d tokens (fee %d)",
				matchLabel(ev), ev.Payout.WinnerID, ev.Payout.WinnerAmount, ev.Payout.PlatformFee)
		}
		return b.String()
	default:
		return ""
	}

	if ev.Board != "" {
		b.WriteString("\n")
		b.WriteString(RenderBoard(ev.Board))
	}
	return b.String()
}

// RenderBoard lays a 9-cell board string out as three rows.
func RenderBoard(board string) string {
	if len(board) != 9 {
		return board
	}
	var b strings.Builder
	for row := 0; row < 3; row++ {
		if row > 0 {
			b.WriteString("\n")
		}
		for col := 0; col < 3; col++ {
			if col > 0 {
				b.WriteString(" ")
			}
			c := board[row*3+col]
			if c == '-' {
				b.WriteString("·")
			} else {
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

func matchLabel(ev Event) string {
	if ev.Code != "" {
		return ev.Code
	}
	return fmt.Sprintf("#%d", ev.MatchID)
}
