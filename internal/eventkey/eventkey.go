// Package eventkey derives deterministic dedup keys for telemetry events and
// provides a bounded gate that drops repeat deliveries.
package eventkey

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rewired-gh/roundwatch/internal/models"
	"github.com/zeebo/blake3"
)

const delimiter = "|"

// GenerateKey joins type, game id, player id, tick index, timestamp (unix
// ms) and an 8-hex-character digest of the serialized payload. Absent values
// become empty strings.
func GenerateKey(eventType string, gameID, playerID *string, tickIndex *float64, timestamp time.Time, payload any) string {
	tick := ""
	if tickIndex != nil {
		tick = strconv.FormatFloat(*tickIndex, 'f', -1, 64)
	}
	return strings.Join([]string{
		eventType,
		deref(gameID),
		deref(playerID),
		tick,
		strconv.FormatInt(timestamp.UnixMilli(), 10),
		digest(payload),
	}, delimiter)
}

// Parts extracts the correlating fields of an event. Events that are not
// trades, side bets, status updates or debug signals report type "unknown".
func Parts(ev models.StructuredEvent) (eventType string, gameID, playerID *string, tickIndex *float64) {
	switch ev.Kind {
	case models.KindTrade:
		t := ev.AsTrade()
		return string(ev.Kind), t.GameID, t.PlayerID, t.TickIndex
	case models.KindSideBet:
		b := ev.AsSideBet()
		return string(ev.Kind), b.GameID, b.PlayerID, nil
	case models.KindStatusUpdate:
		s := ev.AsStatusUpdate()
		return string(ev.Kind), s.GameID, nil, nil
	case models.KindDebugSignal:
		return string(ev.Kind), nil, nil, nil
	default:
		return string(models.KindUnknown), nil, nil, nil
	}
}

// Key computes the dedup key of ev.
func Key(ev models.StructuredEvent) string {
	eventType, gameID, playerID, tick := Parts(ev)
	var payload any = ev.Payload
	if ev.Payload == nil {
		payload = ev.Raw
	}
	return GenerateKey(eventType, gameID, playerID, tick, ev.Timestamp, payload)
}

// digest hashes the JSON encoding of payload. Map keys are sorted by
// encoding/json, so equal payloads hash equally.
func digest(payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", payload))
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:4])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Gate remembers the most recent keys, evicting the oldest first.
type Gate struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	ring     []string
	next     int
	capacity int
}

// NewGate creates a Gate that remembers up to capacity keys.
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		seen:     make(map[string]struct{}, capacity),
		ring:     make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Seen records key and reports whether it was already remembered.
func (g *Gate) Seen(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[key]; ok {
		return true
	}
	if len(g.ring) < g.capacity {
		g.ring = append(g.ring, key)
	} else {
		delete(g.seen, g.ring[g.next])
		g.ring[g.next] = key
		g.next = (g.next + 1) % g.capacity
	}
	g.seen[key] = struct{}{}
	return false
}

// Len returns the number of remembered keys.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
