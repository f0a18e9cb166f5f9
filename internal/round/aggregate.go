package round

import (
	"math"
	"sort"
	"time"

	"github.com/rewired-gh/roundwatch/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// accumulator collects per-round statistics while a round is active.
type accumulator struct {
	startedAt   time.Time
	startReason models.BoundaryReason
	cooldownSec *float64
	lastSeen    time.Time

	trades    []map[string]any
	sideBets  []map[string]any
	players   map[string]struct{}
	usernames map[string]struct{}
	gameIDs   map[string]struct{}

	totalSideBet float64
	totalQtyBuy  float64
	totalQtySell float64
	tickMin      *float64
	tickMax      *float64
	maxWager     *float64
}

func newAccumulator(start time.Time, reason models.BoundaryReason, cooldownSec *float64) *accumulator {
	return &accumulator{
		startedAt:   start,
		startReason: reason,
		cooldownSec: cooldownSec,
		lastSeen:    start,
		players:     make(map[string]struct{}),
		usernames:   make(map[string]struct{}),
		gameIDs:     make(map[string]struct{}),
	}
}

func (a *accumulator) addTrade(ev models.StructuredEvent) {
	t := ev.AsTrade()
	a.trades = append(a.trades, ev.Payload)
	a.addIDs(t.GameID, t.PlayerID, t.Username)

	if t.Qty != nil {
		switch t.Side {
		case "buy":
			a.totalQtyBuy += *t.Qty
		case "sell":
			a.totalQtySell += *t.Qty
		}
	}
	if t.TickIndex != nil {
		tick := *t.TickIndex
		if a.tickMin == nil || tick < *a.tickMin {
			a.tickMin = &tick
		}
		if a.tickMax == nil || tick > *a.tickMax {
			a.tickMax = &tick
		}
	}
	a.observeWager(t.Amount)
}

func (a *accumulator) addSideBet(ev models.StructuredEvent) {
	b := ev.AsSideBet()
	a.sideBets = append(a.sideBets, ev.Payload)
	a.addIDs(b.GameID, b.PlayerID, b.Username)
	if b.BetAmount != nil {
		a.totalSideBet += *b.BetAmount
	}
	a.observeWager(b.BetAmount)
}

func (a *accumulator) addIDs(gameID, playerID, username *string) {
	if gameID != nil {
		a.gameIDs[*gameID] = struct{}{}
	}
	if playerID != nil {
		a.players[*playerID] = struct{}{}
	}
	if username != nil {
		// Composed and decomposed spellings of a name count once.
		a.usernames[norm.NFC.String(*username)] = struct{}{}
	}
}

func (a *accumulator) observeWager(amount *float64) {
	if amount == nil {
		return
	}
	if a.maxWager == nil || *amount > *a.maxWager {
		w := *amount
		a.maxWager = &w
	}
}

// finalize builds the immutable record. end must not precede startedAt.
func (a *accumulator) finalize(end time.Time, reason models.BoundaryReason) models.RoundFeature {
	duration := end.Sub(a.startedAt).Seconds()

	gameIDs := make([]string, 0, len(a.gameIDs))
	for id := range a.gameIDs {
		gameIDs = append(gameIDs, id)
	}
	sort.Strings(gameIDs)

	var avgBet, intensity, volatility float64
	if n := len(a.sideBets); n > 0 {
		avgBet = a.totalSideBet / float64(n)
	}
	if duration > 0 {
		intensity = float64(len(a.trades)) / duration
		if a.tickMin != nil && a.tickMax != nil {
			volatility = (*a.tickMax - *a.tickMin) / duration
		}
	}

	return models.RoundFeature{
		ID:              models.RoundID(a.startedAt, end),
		StartedAt:       a.startedAt,
		EndedAt:         end,
		DurationSec:     duration,
		CooldownSec:     a.cooldownSec,
		StartReason:     a.startReason,
		EndReason:       reason,
		GameIDs:         gameIDs,
		NumTrades:       len(a.trades),
		NumSideBets:     len(a.sideBets),
		UniquePlayers:   len(a.players),
		UniqueUsernames: len(a.usernames),
		TotalSideBet:    a.totalSideBet,
		TotalQtyBuy:     a.totalQtyBuy,
		TotalQtySell:    a.totalQtySell,
		NetQty:          a.totalQtyBuy - a.totalQtySell,
		TickMin:         a.tickMin,
		TickMax:         a.tickMax,
		MaxWager:        a.maxWager,
		AvgBetSize:      round6(avgBet),
		TradeIntensity:  round6(intensity),
		Volatility:      round6(volatility),
	}
}

// round6 rounds half away from zero to 6 decimal places.
func round6(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return decimal.NewFromFloat(x).Round(6).InexactFloat64()
}
