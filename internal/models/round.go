package models

import (
	"errors"
	"fmt"
	"time"
)

// BoundaryReason records why a round started or ended.
type BoundaryReason string

const (
	StartExplicit BoundaryReason = "explicit"
	StartInferred BoundaryReason = "inferred"

	EndExplicitDebug  BoundaryReason = "explicit-debug"
	EndExplicitStatus BoundaryReason = "explicit-status"
	EndTimeout        BoundaryReason = "timeout"
	EndForced         BoundaryReason = "forced"
)

// RoundFeature is the finalized, immutable record of one round.
// Nullable fields are pointers: CooldownSec is nil for the first round of a
// session, tick bounds and MaxWager are nil when never observed.
type RoundFeature struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	EndedAt     time.Time      `json:"endedAt"`
	DurationSec float64        `json:"durationSec"`
	CooldownSec *float64       `json:"cooldownSec"`
	StartReason BoundaryReason `json:"startReason"`
	EndReason   BoundaryReason `json:"endReason"`
	GameIDs     []string       `json:"gameIds"`

	NumTrades       int `json:"numTrades"`
	NumSideBets     int `json:"numSideBets"`
	UniquePlayers   int `json:"uniquePlayers"`
	UniqueUsernames int `json:"uniqueUsernames"`

	TotalSideBet float64  `json:"totalSideBet"`
	TotalQtyBuy  float64  `json:"totalQtyBuy"`
	TotalQtySell float64  `json:"totalQtySell"`
	NetQty       float64  `json:"netQty"`
	TickMin      *float64 `json:"tickMin"`
	TickMax      *float64 `json:"tickMax"`
	MaxWager     *float64 `json:"maxWager"`

	AvgBetSize     float64 `json:"avgBetSize"`
	TradeIntensity float64 `json:"tradeIntensity"`
	Volatility     float64 `json:"volatility"`
}

// RoundID builds the record identifier from the boundary timestamps.
func RoundID(start, end time.Time) string {
	return fmt.Sprintf("%d-%d", start.UnixMilli(), end.UnixMilli())
}

// Validate checks record invariants before persistence.
func (r *RoundFeature) Validate() error {
	if r.ID == "" {
		return errors.New("round ID must not be empty")
	}
	if r.StartedAt.IsZero() {
		return errors.New("started at must be set")
	}
	if r.EndedAt.Before(r.StartedAt) {
		return errors.New("ended at must be >= started at")
	}
	if r.DurationSec < 0 {
		return errors.New("duration must not be negative")
	}
	if r.CooldownSec != nil && *r.CooldownSec < 0 {
		return errors.New("cooldown must not be negative")
	}
	switch r.StartReason {
	case StartExplicit, StartInferred:
	default:
		return fmt.Errorf("unknown start reason %q", r.StartReason)
	}
	switch r.EndReason {
	case EndExplicitDebug, EndExplicitStatus, EndTimeout, EndForced:
	default:
		return fmt.Errorf("unknown end reason %q", r.EndReason)
	}
	if r.NumTrades < 0 || r.NumSideBets < 0 {
		return errors.New("event counts must not be negative")
	}
	if r.UniquePlayers < 0 || r.UniqueUsernames < 0 {
		return errors.New("unique counts must not be negative")
	}
	if r.TickMin != nil && r.TickMax != nil && *r.TickMin > *r.TickMax {
		return errors.New("tick min must be <= tick max")
	}
	return nil
}
