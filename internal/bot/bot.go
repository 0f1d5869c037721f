// Package bot wires the arena command handlers into a Telegram bot.
package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"stake-arena/internal/config"
	"stake-arena/internal/handler"
	"stake-arena/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config

	walletHandler *handler.WalletHandler
	adminHandler  *handler.AdminHandler
	matchHandler  *handler.MatchHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config      *config.Config
	Ledger      *service.Ledger
	Matchmaking *service.Matchmaking
	Matches     *service.Matches
	Stats       *service.Stats
}

// NewClient creates the telebot client. It is created before the services so
// the Telegram notification sink can share it.
func NewClient(token string) (*tele.Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	teleBot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return teleBot, nil
}

// New registers middleware and handlers on client.
func New(client *tele.Bot, deps *Dependencies) *Bot {
	b := &Bot{
		bot:           client,
		cfg:           deps.Config,
		walletHandler: handler.NewWalletHandler(deps.Ledger, deps.Stats),
		adminHandler:  handler.NewAdminHandler(deps.Ledger),
		matchHandler:  handler.NewMatchHandler(deps.Matchmaking, deps.Matches),
	}

	b.registerMiddleware()
	b.registerHandlers()

	return b
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command handlers.
func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.handleHelp)
	b.bot.Handle("/help", b.handleHelp)

	b.bot.Handle("/balance", b.walletHandler.HandleBalance)
	b.bot.Handle("/withdraw", b.walletHandler.HandleWithdraw)
	b.bot.Handle("/history", b.walletHandler.HandleHistory)
	b.bot.Handle("/stats", b.walletHandler.HandleStats)

	b.bot.Handle("/create", b.matchHandler.HandleCreate)
	b.bot.Handle("/join", b.matchHandler.HandleJoin)
	b.bot.Handle("/lobby", b.matchHandler.HandleLobby)
	b.bot.Handle("/begin", b.matchHandler.HandleBegin)
	b.bot.Handle("/move", b.matchHandler.HandleMove)
	b.bot.Handle("/board", b.matchHandler.HandleBoard)
	b.bot.Handle("/result", b.matchHandler.HandleResult)
	b.bot.Handle("/rematch", b.matchHandler.HandleRematch)

	b.bot.Handle(tele.OnCallback, b.handleCallback)

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/deposit", b.adminHandler.HandleDeposit)
	adminGroup.Handle("/reconcile", b.adminHandler.HandleReconcile)
}

// handleCallback routes inline keyboard callbacks by prefix.
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	data := strings.TrimPrefix(callback.Data, "\f")
	log.Debug().Str("data", data).Msg("Callback received")

	if strings.HasPrefix(data, handler.CallbackPrefix) {
		return b.matchHandler.HandleMoveCallback(c)
	}
	return c.Respond(&tele.CallbackResponse{Text: "❌ Invalid action"})
}

func (b *Bot) handleHelp(c tele.Context) error {
	return c.Reply(helpText)
}

const helpText = "🎮 Stake Arena\n\n" +
	"/balance - show balance\n" +
	"/history [page] - transactions\n" +
	"/withdraw <amount> - withdraw tokens\n" +
	"/stats - your record\n\n" +
	"/create <stake> - open a match\n" +
	"/join <code> - join a match\n" +
	"/lobby - open matches\n" +
	"/begin <id> - start a ready match\n" +
	"/move <id> <1-9> - place your mark\n" +
	"/board <id> - show the board\n" +
	"/result <id> - result and payout\n" +
	"/rematch <id> - same stake again"

// Start starts the bot polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
