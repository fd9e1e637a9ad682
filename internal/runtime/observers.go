package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/evaluate"
	"github.com/loqalabs/loqa-scribe/internal/eventstore"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/stt"
)

// busObserver fans session output out over NATS. Publish failures are
// logged and never reach the session.
type busObserver struct {
	client *bus.Client
	log    *slog.Logger
}

func (b *busObserver) publish(subject string, v any) {
	if err := b.client.Publish(subject, v); err != nil {
		b.log.Warn("bus publish failed", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (b *busObserver) Decoded(_ context.Context, sessionID string, evt stt.Event) {
	subject := protocol.SubjectTranscriptPartial
	if evt.Kind == stt.Final {
		subject = protocol.SubjectTranscriptFinal
	}
	b.publish(subject, protocol.Transcript{
		SessionID: sessionID,
		Text:      evt.Text,
		Partial:   evt.Kind == stt.Partial,
		Utterance: evt.Utterance,
		Timestamp: evt.At,
	})
}

func (b *busObserver) StateChanged(_ context.Context, sessionID string, st State) {
	b.publish(protocol.SubjectSessionState, protocol.SessionState{
		SessionID: sessionID,
		State:     st.String(),
		Timestamp: time.Now(),
	})
}

func (b *busObserver) Evaluated(_ context.Context, sessionID string, rec evaluate.MetricRecord, err error) {
	if !recordComputed(err) {
		return
	}
	b.publish(protocol.SubjectMetricWER, protocol.Metric{
		SessionID:       sessionID,
		ReferenceWords:  rec.ReferenceWords,
		HypothesisWords: rec.HypothesisWords,
		WER:             rec.WER,
		Timestamp:       rec.Timestamp,
	})
}

func (b *busObserver) DeviceStatus(context.Context, string, string) {}

// storeObserver keeps the session timeline in the event store. Partials are
// not stored.
type storeObserver struct {
	store *eventstore.Store
	log   *slog.Logger
}

func (s *storeObserver) append(ctx context.Context, sessionID, typ string, payload []byte) {
	err := s.store.AppendEvent(ctx, eventstore.Event{SessionID: sessionID, Type: typ, Payload: payload})
	if err != nil {
		s.log.Warn("event store append failed", slog.String("type", typ), slog.String("error", err.Error()))
	}
}

func (s *storeObserver) Decoded(ctx context.Context, sessionID string, evt stt.Event) {
	if evt.Kind != stt.Final {
		return
	}
	s.append(ctx, sessionID, eventstore.TypeFinal, []byte(evt.Text))
}

func (s *storeObserver) StateChanged(ctx context.Context, sessionID string, st State) {
	switch st {
	case StateEvaluated, StateSkipped, StateFailed:
	default:
		return
	}
	if err := s.store.EndSession(ctx, sessionID, st.String()); err != nil {
		s.log.Warn("event store end session failed", slog.String("error", err.Error()))
	}
}

func (s *storeObserver) Evaluated(ctx context.Context, sessionID string, rec evaluate.MetricRecord, err error) {
	if !recordComputed(err) {
		return
	}
	payload, merr := json.Marshal(protocol.Metric{
		SessionID:       sessionID,
		ReferenceWords:  rec.ReferenceWords,
		HypothesisWords: rec.HypothesisWords,
		WER:             rec.WER,
		Timestamp:       rec.Timestamp,
	})
	if merr != nil {
		return
	}
	s.append(ctx, sessionID, eventstore.TypeMetric, payload)
}

func (s *storeObserver) DeviceStatus(ctx context.Context, sessionID string, msg string) {
	s.append(ctx, sessionID, eventstore.TypeStatus, []byte(msg))
}
