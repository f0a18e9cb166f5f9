package pipeline

import (
	"sync"

	"github.com/rewired-gh/roundwatch/internal/models"
	"github.com/rewired-gh/roundwatch/internal/round"
)

// Notifier reports sink health and finished rounds. *telegram.Client
// satisfies it.
type Notifier interface {
	SendError(err error) error
	SendRecovery(failureCount int) error
	SendRound(r *models.RoundFeature) error
}

// SinkLogger receives sink diagnostics.
type SinkLogger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// roundQueueSize bounds round summaries waiting to be sent.
const roundQueueSize = 32

// NotifyingSink stores rounds and notifies on the first failure of a
// consecutive run and on the first success after one. Failed rounds are
// dropped, not retried. Round summaries are sent from a background
// goroutine so a slow notifier never holds up the tracker.
type NotifyingSink struct {
	store    round.Sink
	notifier Notifier
	log      SinkLogger

	mu                  sync.Mutex
	consecutiveFailures int
	stored              int
	failed              int

	rounds chan *models.RoundFeature
	done   chan struct{}
	closed bool
}

// NewNotifyingSink wraps store. A nil notifier only logs.
func NewNotifyingSink(store round.Sink, notifier Notifier, notifyRounds bool, log SinkLogger) *NotifyingSink {
	s := &NotifyingSink{
		store:    store,
		notifier: notifier,
		log:      log,
	}
	if notifyRounds && notifier != nil {
		s.rounds = make(chan *models.RoundFeature, roundQueueSize)
		s.done = make(chan struct{})
		go s.sendRounds()
	}
	return s
}

func (s *NotifyingSink) sendRounds() {
	defer close(s.done)
	for r := range s.rounds {
		if err := s.notifier.SendRound(r); err != nil && s.log != nil {
			s.log.Warn("Failed to send round notification to Telegram: %v", err)
		}
	}
}

// Close waits for queued round summaries to go out. Rounds stored after
// Close are not announced.
func (s *NotifyingSink) Close() {
	s.mu.Lock()
	if s.rounds == nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.rounds)
	s.mu.Unlock()
	<-s.done
}

// InsertRoundFeature implements round.Sink.
func (s *NotifyingSink) InsertRoundFeature(r *models.RoundFeature) error {
	err := s.store.InsertRoundFeature(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.failed++
		s.consecutiveFailures++
		if s.log != nil {
			s.log.Error("Failed to store round %s: %v", r.ID, err)
		}
		if s.consecutiveFailures == 1 && s.notifier != nil {
			if sendErr := s.notifier.SendError(err); sendErr != nil && s.log != nil {
				s.log.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		return err
	}

	s.stored++
	if s.consecutiveFailures > 0 && s.notifier != nil {
		if sendErr := s.notifier.SendRecovery(s.consecutiveFailures); sendErr != nil && s.log != nil {
			s.log.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
		}
	}
	s.consecutiveFailures = 0

	if s.log != nil {
		s.log.Info("Stored round %s (%s → %s)", r.ID, r.StartReason, r.EndReason)
	}
	if s.rounds != nil && !s.closed {
		select {
		case s.rounds <- r:
		default:
			if s.log != nil {
				s.log.Warn("Round notification queue full, skipping summary for %s", r.ID)
			}
		}
	}
	return nil
}

// Counts returns how many rounds were stored and how many failed.
func (s *NotifyingSink) Counts() (stored, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored, s.failed
}
