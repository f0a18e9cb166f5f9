// Package pipeline wires a line or frame source through extraction,
// deduplication and round tracking.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rewired-gh/roundwatch/internal/eventkey"
	"github.com/rewired-gh/roundwatch/internal/extract"
	"github.com/rewired-gh/roundwatch/internal/models"
	"github.com/rewired-gh/roundwatch/internal/round"
)

// Mode selects how input items are decoded.
type Mode string

const (
	ModeLines  Mode = "lines"
	ModeFrames Mode = "frames"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLines, ModeFrames:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown input mode %q", s)
}

// Logger receives pipeline diagnostics.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
}

// Stats counts what a Run saw.
type Stats struct {
	Lines      int
	Events     int
	Unknown    int
	Duplicates int
}

// Pipeline feeds extracted, deduplicated events to a round tracker in
// arrival order.
type Pipeline struct {
	extractor *extract.Extractor
	gate      *eventkey.Gate
	tracker   *round.Tracker
	mode      Mode
	log       Logger
}

// New creates a Pipeline. A nil gate disables deduplication.
func New(x *extract.Extractor, gate *eventkey.Gate, tracker *round.Tracker, mode Mode, log Logger) *Pipeline {
	if mode == "" {
		mode = ModeLines
	}
	return &Pipeline{
		extractor: x,
		gate:      gate,
		tracker:   tracker,
		mode:      mode,
		log:       log,
	}
}

// Run consumes lines until the channel closes or ctx is done, then forces
// the open round, if any, to end. It returns ctx.Err() when cancelled.
func (p *Pipeline) Run(ctx context.Context, lines <-chan models.RawLine) (Stats, error) {
	var stats Stats
	defer p.tracker.ForceEnd()

	for {
		select {
		case <-ctx.Done():
			p.logf("Input cancelled after %d lines", stats.Lines)
			return stats, ctx.Err()
		case line, ok := <-lines:
			if !ok {
				p.logf("Input exhausted after %d lines (%d events, %d unknown, %d duplicates)",
					stats.Lines, stats.Events, stats.Unknown, stats.Duplicates)
				return stats, nil
			}
			stats.Lines++
			for _, ev := range p.decode(line) {
				p.handle(ev, &stats)
			}
		}
	}
}

func (p *Pipeline) decode(line models.RawLine) []models.StructuredEvent {
	if p.mode == ModeFrames {
		return p.extractor.ExtractFrame([]byte(line.Text), line.ReceivedAt)
	}
	return []models.StructuredEvent{p.extractor.Extract(line)}
}

func (p *Pipeline) handle(ev models.StructuredEvent, stats *Stats) {
	if ev.Kind == models.KindUnknown {
		stats.Unknown++
		return
	}
	if p.gate != nil && p.gate.Seen(eventkey.Key(ev)) {
		stats.Duplicates++
		if p.log != nil {
			p.log.Debug("dropped duplicate %s event", ev.Kind)
		}
		return
	}
	stats.Events++
	p.tracker.Process(ev)
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.log != nil {
		p.log.Info(format, args...)
	}
}
