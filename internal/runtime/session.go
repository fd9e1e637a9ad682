package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/evaluate"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/transcript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrPersist marks a failed transcript write. It is fatal to the run.
var ErrPersist = errors.New("transcript persist failed")

// Observer receives everything a session produces. Observers are called
// from the recognition loop and must not block for long.
type Observer interface {
	Decoded(ctx context.Context, sessionID string, evt stt.Event)
	StateChanged(ctx context.Context, sessionID string, st State)
	// Evaluated is called once per session after the transcript is
	// persisted. err is nil, or wraps evaluate.ErrNoReference or
	// evaluate.ErrMetricsLog, or reports a failed comparison.
	Evaluated(ctx context.Context, sessionID string, rec evaluate.MetricRecord, err error)
	DeviceStatus(ctx context.Context, sessionID string, msg string)
}

// Result summarises a finished session.
type Result struct {
	SessionID  string
	State      State
	Transcript string
	Metric     *evaluate.MetricRecord
	Stats      stt.Stats
	Dropped    uint64
}

// Session holds every piece of per-run state: the open source, the queue
// shared with the capture goroutine, the recognizer and the transcript.
type Session struct {
	ID         string
	Source     audio.Source
	Queue      *audio.ChunkQueue
	Recognizer *stt.Recognizer
	Transcript *transcript.Accumulator
	Store      transcript.Store
	Evaluator  *evaluate.Evaluator
	Recorder   *audio.Recorder
	Observers  []Observer
	Logger     *slog.Logger

	state   atomic.Int32
	tracer  trace.Tracer
	metrics *instruments
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(ctx context.Context, st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev == st {
		return
	}
	s.Logger.Info("session state", slog.String("from", prev.String()), slog.String("to", st.String()))
	for _, o := range s.Observers {
		o.StateChanged(ctx, s.ID, st)
	}
}

// Run captures until ctx is cancelled or the source ends, then drains the
// queue, persists the transcript and evaluates it. The returned error is
// non-nil only for device failures and transcript persist failures.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/loqalabs/loqa-scribe/runtime")
	}
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.Logger = s.Logger.With(slog.String("session_id", s.ID))
	result := Result{SessionID: s.ID}

	// Observers write with this context after the interrupt, so it must
	// outlive ctx.
	loopCtx := context.WithoutCancel(ctx)

	captureCtx, span := s.tracer.Start(loopCtx, "session.capture", trace.WithAttributes(attribute.String("session.id", s.ID)))
	if err := s.Source.Start(captureCtx, s.Queue); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "device open failed")
		span.End()
		s.setState(loopCtx, StateFailed)
		result.State = StateFailed
		return result, err
	}
	s.setState(loopCtx, StateCapturing)

	var wg sync.WaitGroup
	statusDone := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.forwardStatus(loopCtx, statusDone)
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			s.Logger.Info("stop requested")
		case <-s.Source.Done():
		}
		s.setState(loopCtx, StateStopping)
		if err := s.Source.Stop(); err != nil {
			s.Logger.Warn("failed to stop audio source", slog.String("error", err.Error()))
		}
		s.Queue.Close()
	}()

	s.recognize(loopCtx)
	close(statusDone)
	wg.Wait()

	result.Stats = s.Recognizer.Stats()
	result.Dropped = s.Queue.Dropped()
	span.SetAttributes(
		attribute.Int64("chunks", int64(result.Stats.Chunks)),
		attribute.Int64("dropped", int64(result.Dropped)),
	)

	if err := s.Source.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "device lost")
		span.End()
		s.closeRecorder()
		s.setState(loopCtx, StateFailed)
		result.State = StateFailed
		return result, err
	}
	span.End()

	if evt, ok, _ := s.Recognizer.Flush(); ok {
		s.dispatch(loopCtx, evt)
	}
	s.closeRecorder()

	content, err := s.persist(loopCtx)
	if err != nil {
		s.setState(loopCtx, StateFailed)
		result.State = StateFailed
		return result, err
	}
	result.Transcript = content
	s.setState(loopCtx, StatePersisted)

	if rec, ok := s.evaluate(loopCtx); ok {
		result.Metric = &rec
		s.setState(loopCtx, StateEvaluated)
	} else {
		s.setState(loopCtx, StateSkipped)
	}

	s.setState(loopCtx, StateTerminated)
	result.State = StateTerminated
	return result, nil
}

// recognize is the consumer side of the queue. It returns once the queue has
// been closed and fully drained.
func (s *Session) recognize(ctx context.Context) {
	var reportedDrops uint64
	for {
		chunk, err := s.Queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.Logger.Warn("queue wait ended", slog.String("error", err.Error()))
			}
			break
		}
		if dropped := s.Queue.Dropped(); dropped > reportedDrops {
			s.Logger.Warn("audio chunks dropped, recognizer is falling behind",
				slog.Uint64("dropped_total", dropped), slog.Int("queue_capacity", s.Queue.Cap()))
			reportedDrops = dropped
		}
		if s.Recorder != nil {
			if err := s.Recorder.Write(chunk.PCM); err != nil {
				s.Logger.Warn("recording write failed, disabling recording", slog.String("error", err.Error()))
				s.closeRecorder()
			}
		}

		evt, ok, err := s.Recognizer.Accept(chunk)
		if err != nil {
			s.metrics.malformed(ctx)
			continue
		}
		if ok {
			s.dispatch(ctx, evt)
		}
	}
}

func (s *Session) dispatch(ctx context.Context, evt stt.Event) {
	if evt.Kind == stt.Final {
		if err := s.Transcript.Append(evt.Text); err != nil {
			s.Logger.Warn("dropping final after persist", slog.String("error", err.Error()))
			return
		}
	}
	s.metrics.decoded(ctx, evt.Kind)
	for _, o := range s.Observers {
		o.Decoded(ctx, s.ID, evt)
	}
}

func (s *Session) forwardStatus(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-s.Source.Status():
			for _, o := range s.Observers {
				o.DeviceStatus(ctx, s.ID, msg)
			}
		}
	}
}

func (s *Session) persist(ctx context.Context) (string, error) {
	_, span := s.tracer.Start(ctx, "session.persist")
	defer span.End()
	content, err := s.Transcript.Persist(s.Store)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		s.Logger.Error("failed to persist transcript", slog.String("error", err.Error()))
		return "", fmt.Errorf("%w: %v", ErrPersist, err)
	}
	span.SetAttributes(attribute.Int("lines", len(s.Transcript.Lines())))
	return content, nil
}

// evaluate never fails the session. It reports whether a record was produced.
func (s *Session) evaluate(ctx context.Context) (evaluate.MetricRecord, bool) {
	if s.Evaluator == nil {
		return evaluate.MetricRecord{}, false
	}
	_, span := s.tracer.Start(ctx, "session.evaluate")
	defer span.End()

	rec, err := s.Evaluator.Evaluate()
	for _, o := range s.Observers {
		o.Evaluated(ctx, s.ID, rec, err)
	}
	if !recordComputed(err) {
		if errors.Is(err, evaluate.ErrNoReference) {
			s.Logger.Info("no reference transcript, skipping evaluation")
		} else {
			span.RecordError(err)
			s.Logger.Warn("evaluation failed", slog.String("error", err.Error()))
		}
		return evaluate.MetricRecord{}, false
	}
	if err != nil {
		span.RecordError(err)
		s.Logger.Warn("failed to append metrics log", slog.String("error", err.Error()))
	}
	span.SetAttributes(attribute.Float64("wer", rec.WER))
	return rec, true
}

// recordComputed reports whether Evaluate produced a usable record.
func recordComputed(err error) bool {
	return err == nil || errors.Is(err, evaluate.ErrMetricsLog)
}

func (s *Session) closeRecorder() {
	if s.Recorder == nil {
		return
	}
	if err := s.Recorder.Close(); err != nil {
		s.Logger.Warn("failed to close recording", slog.String("error", err.Error()))
	}
	s.Recorder = nil
}
