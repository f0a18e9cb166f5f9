package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/roundwatch/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"Hello_World", "Hello\\_World"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"Price: $100.50", "Price: $100\\.50"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"~strikethrough~", "\\~strikethrough\\~"},
		{"`code`", "\\`code\\`"},
		{">blockquote", "\\>blockquote"},
		{"#header", "\\#header"},
		{"+plus-minus", "\\+plus\\-minus"},
		{"=equal|pipe", "\\=equal\\|pipe"},
		{"{brace}", "\\{brace\\}"},
		{"end!", "end\\!"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	// NewClient with non-numeric chatID should return an error
	// Note: This test exercises the chat ID parsing error path
	// The bot token validation happens first (network call), so we use a clearly
	// invalid format to test the error handling flow
	_, err := NewClient("", "not-a-number", 3, time.Second)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func testRound() *models.RoundFeature {
	wager := 12.5
	tickMin, tickMax := 3.0, 18.0
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.RoundFeature{
		ID:             models.RoundID(start, start.Add(10*time.Second)),
		StartedAt:      start,
		EndedAt:        start.Add(10 * time.Second),
		DurationSec:    10,
		StartReason:    models.StartExplicit,
		EndReason:      models.EndExplicitDebug,
		GameIDs:        []string{"game-1"},
		NumTrades:      4,
		NumSideBets:    2,
		UniquePlayers:  3,
		TotalSideBet:   0.75,
		TotalQtyBuy:    5,
		TotalQtySell:   1.5,
		NetQty:         3.5,
		TickMin:        &tickMin,
		TickMax:        &tickMax,
		MaxWager:       &wager,
		AvgBetSize:     0.375,
		TradeIntensity: 0.4,
		Volatility:     1.5,
	}
}

func TestFormatRound(t *testing.T) {
	msg := formatRound(testRound())

	for _, want := range []string{
		"*Round finished*",
		"2026\\-03\\-01 12:00:00 UTC, 10\\.0s",
		"explicit → explicit\\-debug",
		"game\\-1",
		"Trades: *4*, side bets: *2*, players: *3*",
		"Net qty: 3\\.5 \\(buy 5, sell 1\\.5\\)",
		"Max wager: 12\\.5",
		"Ticks: 3\\.\\.18, volatility 1\\.5",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestFormatRound_OptionalLines(t *testing.T) {
	r := testRound()
	r.NumSideBets = 0
	r.MaxWager = nil
	r.TickMin = nil
	r.GameIDs = nil
	msg := formatRound(r)

	for _, absent := range []string{"Side bets:", "Max wager", "Ticks:", "🎯"} {
		if strings.Contains(msg, absent) {
			t.Errorf("message should not contain %q:\n%s", absent, msg)
		}
	}
}

func TestLastRoundText(t *testing.T) {
	tests := []struct {
		name   string
		latest LatestFunc
		want   string
	}{
		{"no source", nil, "No rounds recorded yet"},
		{"empty store", func() (*models.RoundFeature, error) { return nil, nil }, "No rounds recorded yet"},
		{"store error", func() (*models.RoundFeature, error) { return nil, errors.New("db locked") }, "db locked"},
		{"latest round", func() (*models.RoundFeature, error) { return testRound(), nil }, "*Round finished*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastRoundText(tt.latest); !strings.Contains(got, tt.want) {
				t.Errorf("lastRoundText() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}
