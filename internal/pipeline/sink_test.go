package pipeline

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/roundwatch/internal/clock"
	"github.com/rewired-gh/roundwatch/internal/logger"
	"github.com/rewired-gh/roundwatch/internal/models"
	"github.com/rewired-gh/roundwatch/internal/round"
)

type recordingNotifier struct {
	errs       []error
	recoveries []int
	rounds     []string
}

func (n *recordingNotifier) SendError(err error) error {
	n.errs = append(n.errs, err)
	return nil
}

func (n *recordingNotifier) SendRecovery(failureCount int) error {
	n.recoveries = append(n.recoveries, failureCount)
	return nil
}

func (n *recordingNotifier) SendRound(r *models.RoundFeature) error {
	n.rounds = append(n.rounds, r.ID)
	return errors.New("telegram down")
}

func sinkRound(i int) *models.RoundFeature {
	start := t0.Add(time.Duration(i) * time.Minute)
	return &models.RoundFeature{ID: models.RoundID(start, start.Add(time.Second)), StartedAt: start, EndedAt: start.Add(time.Second)}
}

func TestNotifyingSink_ConsecutiveFailures(t *testing.T) {
	failing := true
	store := round.SinkFunc(func(*models.RoundFeature) error {
		if failing {
			return errors.New("database is locked")
		}
		return nil
	})
	notifier := &recordingNotifier{}
	sink := NewNotifyingSink(store, notifier, false, logger.Discard())

	for i := 0; i < 3; i++ {
		if err := sink.InsertRoundFeature(sinkRound(i)); err == nil {
			t.Fatal("expected store error to be returned")
		}
	}
	if len(notifier.errs) != 1 {
		t.Errorf("error notifications = %d, want 1 for a run of failures", len(notifier.errs))
	}

	failing = false
	if err := sink.InsertRoundFeature(sinkRound(3)); err != nil {
		t.Fatalf("InsertRoundFeature: %v", err)
	}
	if err := sink.InsertRoundFeature(sinkRound(4)); err != nil {
		t.Fatalf("InsertRoundFeature: %v", err)
	}
	if len(notifier.recoveries) != 1 || notifier.recoveries[0] != 3 {
		t.Errorf("recoveries = %v, want [3]", notifier.recoveries)
	}
	if len(notifier.rounds) != 0 {
		t.Errorf("round notifications sent while disabled: %v", notifier.rounds)
	}

	stored, failed := sink.Counts()
	if stored != 2 || failed != 3 {
		t.Errorf("Counts() = %d, %d; want 2, 3", stored, failed)
	}
}

func TestNotifyingSink_NotifyRounds(t *testing.T) {
	notifier := &recordingNotifier{}
	sink := NewNotifyingSink(round.SinkFunc(func(*models.RoundFeature) error { return nil }), notifier, true, logger.Discard())

	r := sinkRound(0)
	// A failed notification does not fail the insert.
	if err := sink.InsertRoundFeature(r); err != nil {
		t.Fatalf("InsertRoundFeature: %v", err)
	}
	sink.Close()
	sink.Close()
	if len(notifier.rounds) != 1 || notifier.rounds[0] != r.ID {
		t.Errorf("round notifications = %v", notifier.rounds)
	}
}

type blockingNotifier struct {
	recordingNotifier
	release chan struct{}
}

func (n *blockingNotifier) SendRound(r *models.RoundFeature) error {
	<-n.release
	return n.recordingNotifier.SendRound(r)
}

func TestNotifyingSink_SlowNotifierDoesNotBlockInsert(t *testing.T) {
	notifier := &blockingNotifier{release: make(chan struct{})}
	sink := NewNotifyingSink(round.SinkFunc(func(*models.RoundFeature) error { return nil }), notifier, true, logger.Discard())

	inserted := make(chan struct{})
	go func() {
		defer close(inserted)
		for i := 0; i < 3; i++ {
			if err := sink.InsertRoundFeature(sinkRound(i)); err != nil {
				t.Errorf("InsertRoundFeature: %v", err)
			}
		}
	}()
	select {
	case <-inserted:
	case <-time.After(5 * time.Second):
		t.Fatal("InsertRoundFeature waited on the notifier")
	}

	close(notifier.release)
	sink.Close()
	if len(notifier.rounds) != 3 {
		t.Errorf("round notifications = %v, want 3 after Close", notifier.rounds)
	}
	if err := sink.InsertRoundFeature(sinkRound(3)); err != nil {
		t.Fatalf("InsertRoundFeature after Close: %v", err)
	}
	if stored, _ := sink.Counts(); stored != 4 {
		t.Errorf("stored = %d, want 4", stored)
	}
}

func TestNotifyingSink_FailureLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, "debug", "json")
	sink := NewNotifyingSink(round.SinkFunc(func(*models.RoundFeature) error {
		return errors.New("disk full")
	}), nil, false, log)
	tr := round.New(sink, round.DefaultConfig(), clock.Fake(t0), log)

	tr.Process(models.StructuredEvent{Kind: models.KindDebugSignal, Timestamp: t0,
		Payload: map[string]any{"active": true, "wasActive": false}})
	tr.Process(models.StructuredEvent{Kind: models.KindDebugSignal, Timestamp: t0.Add(time.Second),
		Payload: map[string]any{"active": false, "wasActive": true}})

	if _, failed := sink.Counts(); failed != 1 {
		t.Fatalf("failed = %d, want 1", failed)
	}
	if n := strings.Count(buf.String(), "[ERROR]"); n != 1 {
		t.Errorf("error lines = %d, want 1:\n%s", n, buf.String())
	}
}

func TestNotifyingSink_NoNotifier(t *testing.T) {
	sink := NewNotifyingSink(round.SinkFunc(func(*models.RoundFeature) error {
		return errors.New("disk full")
	}), nil, true, nil)
	if err := sink.InsertRoundFeature(sinkRound(0)); err == nil {
		t.Error("expected error")
	}
	if _, failed := sink.Counts(); failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
}
