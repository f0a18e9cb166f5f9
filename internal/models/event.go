// Package models defines the core domain entities: raw lines, structured
// telemetry events with typed payload views, and finalized round features.
package models

import (
	"strings"
	"time"
)

// Kind tags the variant of a StructuredEvent.
type Kind string

const (
	KindSideBet      Kind = "sideBet"
	KindTrade        Kind = "trade"
	KindStatusUpdate Kind = "statusUpdate"
	KindDebugSignal  Kind = "debugSignal"
	KindConsole      Kind = "console"
	KindUnknown      Kind = "unknown"
)

// RawLine is one line of input text with its arrival time.
type RawLine struct {
	Text       string
	ReceivedAt time.Time
}

// StructuredEvent is the output of extraction. Payload holds the decoded
// JSON object or the debug-line captures; Raw keeps the trimmed source line
// for unknown events only.
type StructuredEvent struct {
	Kind      Kind
	Timestamp time.Time
	Payload   map[string]any
	Raw       string
}

// IsActivity reports whether the event is a trade or side bet.
func (e StructuredEvent) IsActivity() bool {
	return e.Kind == KindTrade || e.Kind == KindSideBet
}

// Trade is the typed view of a trade payload.
type Trade struct {
	GameID    *string
	PlayerID  *string
	Username  *string
	TickIndex *float64
	Side      string // "buy", "sell" or empty
	Qty       *float64
	Amount    *float64
}

// SideBet is the typed view of a side-bet payload. Side bets never carry
// a tick index.
type SideBet struct {
	GameID    *string
	PlayerID  *string
	Username  *string
	BetAmount *float64
}

// StatusUpdate is the typed view of a status-update payload.
type StatusUpdate struct {
	GameID *string
	Status *string // upper-cased
}

// DebugSignal is the typed view of an auto-bet debug line.
type DebugSignal struct {
	Active                 bool
	WasActive              bool
	AutobuysEnabled        bool
	PendingDisableAutobets bool
	AutoRoundsCompleted    *int
	PnL                    *float64
}

var (
	gameIDKeys   = []string{"gameId", "game_id", "roundId", "round_id"}
	playerIDKeys = []string{"playerId", "player_id", "userId", "user_id"}
	usernameKeys = []string{"username", "playerName", "name"}
)

// AsTrade decodes the payload as a trade.
func (e StructuredEvent) AsTrade() Trade {
	p := e.Payload
	t := Trade{
		GameID:    String(Lookup(p, gameIDKeys...)),
		PlayerID:  String(Lookup(p, playerIDKeys...)),
		Username:  String(Lookup(p, usernameKeys...)),
		TickIndex: Number(Lookup(p, "tickIndex", "tick_index", "tick")),
		Qty:       Number(Lookup(p, "qty", "quantity")),
		Amount:    Number(Lookup(p, "amount", "cost")),
	}
	if side := String(Lookup(p, "type", "side")); side != nil {
		switch strings.ToLower(*side) {
		case "buy":
			t.Side = "buy"
		case "sell":
			t.Side = "sell"
		}
	}
	return t
}

// AsSideBet decodes the payload as a side bet.
func (e StructuredEvent) AsSideBet() SideBet {
	p := e.Payload
	return SideBet{
		GameID:    String(Lookup(p, gameIDKeys...)),
		PlayerID:  String(Lookup(p, playerIDKeys...)),
		Username:  String(Lookup(p, usernameKeys...)),
		BetAmount: Number(Lookup(p, "betAmount", "bet_amount", "amount")),
	}
}

// AsStatusUpdate decodes the payload as a status update.
func (e StructuredEvent) AsStatusUpdate() StatusUpdate {
	s := StatusUpdate{
		GameID: String(Lookup(e.Payload, gameIDKeys...)),
		Status: String(Lookup(e.Payload, "status", "state")),
	}
	if s.Status != nil {
		upper := strings.ToUpper(*s.Status)
		s.Status = &upper
	}
	return s
}

// AsDebugSignal decodes the payload as a debug signal. Missing flags are false.
func (e StructuredEvent) AsDebugSignal() DebugSignal {
	p := e.Payload
	d := DebugSignal{
		Active:                 Bool(p["active"]),
		WasActive:              Bool(p["wasActive"]),
		AutobuysEnabled:        Bool(p["autobuysEnabled"]),
		PendingDisableAutobets: Bool(p["pendingDisableAutobets"]),
		PnL:                    Number(p["pnl"]),
	}
	if n := Number(p["autoRoundsCompleted"]); n != nil {
		v := int(*n)
		d.AutoRoundsCompleted = &v
	}
	return d
}
