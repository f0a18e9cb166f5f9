// Package extract turns noisy console lines and captured websocket frames into
// structured telemetry events. Extraction never fails: input that yields no
// event degrades to an unknown event and a debug log line.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rewired-gh/roundwatch/internal/models"
	"github.com/tidwall/jsonc"
)

// Logger receives extraction-miss diagnostics.
type Logger interface {
	Debug(format string, args ...interface{})
}

// Labels are the phrases that precede the JSON payload of each event kind.
type Labels struct {
	SideBet      string
	Trade        string
	StatusUpdate string
}

// DefaultLabels matches the collector's console output.
var DefaultLabels = Labels{
	SideBet:      "New side bet:",
	Trade:        "New trade received:",
	StatusUpdate: "Game state update:",
}

// strategy is one parsing attempt over a trimmed line.
type strategy func(line string) (models.StructuredEvent, bool)

// Extractor converts raw lines to structured events.
type Extractor struct {
	labels     Labels
	labeled    *regexp.Regexp
	strategies []strategy
	log        Logger
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLabels overrides DefaultLabels. Empty fields keep the default.
func WithLabels(l Labels) Option {
	return func(x *Extractor) {
		if l.SideBet != "" {
			x.labels.SideBet = l.SideBet
		}
		if l.Trade != "" {
			x.labels.Trade = l.Trade
		}
		if l.StatusUpdate != "" {
			x.labels.StatusUpdate = l.StatusUpdate
		}
	}
}

// New creates an Extractor that reports misses to log.
func New(log Logger, opts ...Option) *Extractor {
	x := &Extractor{labels: DefaultLabels, log: log}
	for _, opt := range opts {
		opt(x)
	}
	x.labeled = regexp.MustCompile(`(?:` +
		regexp.QuoteMeta(x.labels.SideBet) + `|` +
		regexp.QuoteMeta(x.labels.Trade) + `|` +
		regexp.QuoteMeta(x.labels.StatusUpdate) + `)\s*(\{.*)$`)
	x.strategies = []strategy{x.debugSignal, x.labeledJSON, x.embeddedJSON}
	return x
}

// Extract converts one raw line. The result is never nil-equivalent: lines
// with no recognizable content come back as KindUnknown with Raw set.
func (x *Extractor) Extract(line models.RawLine) models.StructuredEvent {
	text := strings.TrimSpace(line.Text)
	if text != "" {
		for _, try := range x.strategies {
			if ev, ok := try(text); ok {
				ev.Timestamp = line.ReceivedAt
				return ev
			}
		}
		if x.log != nil {
			x.log.Debug("unparsed line: %s", text)
		}
	}
	return models.StructuredEvent{Kind: models.KindUnknown, Timestamp: line.ReceivedAt, Raw: text}
}

func (x *Extractor) debugSignal(line string) (models.StructuredEvent, bool) {
	payload, ok := ParseDebugSignal(line)
	if !ok {
		return models.StructuredEvent{}, false
	}
	return models.StructuredEvent{Kind: models.KindDebugSignal, Payload: payload}, true
}

// labeledJSON parses the object that follows a known label.
func (x *Extractor) labeledJSON(line string) (models.StructuredEvent, bool) {
	m := x.labeled.FindStringSubmatch(line)
	if m == nil {
		return models.StructuredEvent{}, false
	}
	span, ok := LastBalancedObject(m[1])
	if !ok {
		return models.StructuredEvent{}, false
	}
	payload, ok := parseObject(span)
	if !ok {
		return models.StructuredEvent{}, false
	}
	return models.StructuredEvent{Kind: x.classify(line), Payload: payload}, true
}

// embeddedJSON parses the rightmost balanced object anywhere in the line.
func (x *Extractor) embeddedJSON(line string) (models.StructuredEvent, bool) {
	span, ok := LastBalancedObject(line)
	if !ok {
		return models.StructuredEvent{}, false
	}
	payload, ok := parseObject(span)
	if !ok {
		return models.StructuredEvent{}, false
	}
	return models.StructuredEvent{Kind: x.classify(line), Payload: payload}, true
}

// classify picks the kind from the label the line contains, regardless of
// where the JSON was found.
func (x *Extractor) classify(line string) models.Kind {
	switch {
	case strings.Contains(line, x.labels.SideBet):
		return models.KindSideBet
	case strings.Contains(line, x.labels.Trade):
		return models.KindTrade
	case strings.Contains(line, x.labels.StatusUpdate):
		return models.KindStatusUpdate
	default:
		return models.KindConsole
	}
}

// parseObject decodes span as a JSON object, retrying once through jsonc to
// tolerate comments and trailing commas.
func parseObject(span string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(span), &obj); err == nil && obj != nil {
		return obj, true
	}
	obj = nil
	if err := json.Unmarshal(jsonc.ToJSON([]byte(span)), &obj); err == nil && obj != nil {
		return obj, true
	}
	return nil, false
}

// LastBalancedObject returns the rightmost outermost balanced {...} span in s.
// Braces inside double-quoted strings within a span are ignored. When an
// unclosed '{' swallows the rest of the line the scan restarts after it,
// and a span found there wins over any earlier one.
func LastBalancedObject(s string) (string, bool) {
	span, unclosed, found := scanBraces(s)
	if unclosed >= 0 {
		if later, ok := LastBalancedObject(s[unclosed+1:]); ok {
			return later, true
		}
	}
	return span, found
}

func scanBraces(s string) (span string, unclosed int, found bool) {
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					span, found = s[start:i+1], true
				}
			}
		}
	}
	if depth > 0 {
		return span, start, found
	}
	return span, -1, found
}
