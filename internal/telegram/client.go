// Package telegram sends round summaries and sink health notifications via the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/roundwatch/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// LatestFunc returns the most recently stored round, or nil when none exists.
type LatestFunc func() (*models.RoundFeature, error)

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context, latest LatestFunc) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, latest)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, latest LatestFunc) {
	var reply tgbotapi.MessageConfig
	switch msg.Command() {
	case "ping":
		reply = tgbotapi.NewMessage(msg.Chat.ID, "Pong")
	case "last":
		reply = tgbotapi.NewMessage(msg.Chat.ID, lastRoundText(latest))
		reply.ParseMode = "MarkdownV2"
	default:
		return
	}
	c.bot.Send(reply) //nolint:errcheck
}

func lastRoundText(latest LatestFunc) string {
	if latest == nil {
		return "No rounds recorded yet"
	}
	r, err := latest()
	if err != nil {
		return fmt.Sprintf("⚠️ `%s`", escapeMarkdownV2(err.Error()))
	}
	if r == nil {
		return "No rounds recorded yet"
	}
	return formatRound(r)
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a sink error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(sinkErr error) error {
	text := fmt.Sprintf("⚠️ *Round sink error*\n`%s`", escapeMarkdownV2(sinkErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Round sink recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendRound sends a summary of one finalized round.
func (c *Client) SendRound(r *models.RoundFeature) error {
	return c.sendMarkdownV2(formatRound(r))
}

// formatRound formats a round into a Telegram MarkdownV2 message.
func formatRound(r *models.RoundFeature) string {
	var b strings.Builder
	b.WriteString("🎲 *Round finished*\n\n")

	started := escapeMarkdownV2(r.StartedAt.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "📅 %s UTC, %s\n", started, escapeMarkdownV2(fmt.Sprintf("%.1fs", r.DurationSec)))
	fmt.Fprintf(&b, "🔖 %s → %s\n",
		escapeMarkdownV2(string(r.StartReason)), escapeMarkdownV2(string(r.EndReason)))
	if len(r.GameIDs) > 0 {
		fmt.Fprintf(&b, "🎯 %s\n", escapeMarkdownV2(strings.Join(r.GameIDs, ", ")))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "Trades: *%d*, side bets: *%d*, players: *%d*\n",
		r.NumTrades, r.NumSideBets, r.UniquePlayers)
	fmt.Fprintf(&b, "Net qty: %s \\(buy %s, sell %s\\)\n",
		escapeMarkdownV2(formatFloat(r.NetQty)),
		escapeMarkdownV2(formatFloat(r.TotalQtyBuy)),
		escapeMarkdownV2(formatFloat(r.TotalQtySell)))
	if r.NumSideBets > 0 {
		fmt.Fprintf(&b, "Side bets: %s total, %s avg\n",
			escapeMarkdownV2(formatFloat(r.TotalSideBet)), escapeMarkdownV2(formatFloat(r.AvgBetSize)))
	}
	if r.MaxWager != nil {
		fmt.Fprintf(&b, "Max wager: %s\n", escapeMarkdownV2(formatFloat(*r.MaxWager)))
	}
	if r.TickMin != nil && r.TickMax != nil {
		fmt.Fprintf(&b, "Ticks: %s\\.\\.%s, volatility %s\n",
			escapeMarkdownV2(formatFloat(*r.TickMin)), escapeMarkdownV2(formatFloat(*r.TickMax)),
			escapeMarkdownV2(formatFloat(r.Volatility)))
	}
	return b.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
