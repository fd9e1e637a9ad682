package stt

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-scribe/internal/audio"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func feed(t *testing.T, r *Recognizer, n int) []Event {
	t.Helper()
	var events []Event
	for i := 0; i < n; i++ {
		evt, ok, _ := r.Accept(audio.Chunk{Seq: uint64(i), PCM: make([]byte, 32)})
		if ok {
			events = append(events, evt)
		}
	}
	return events
}

func TestPartialsThenFinal(t *testing.T) {
	steps, err := ParseMockScript("p:hel|p:hello|f:hello world")
	if err != nil {
		t.Fatalf("parse script: %v", err)
	}
	r := NewRecognizer(NewMockDecoder(steps), newLogger())
	events := feed(t, r, 3)

	want := []Event{
		{Kind: Partial, Text: "hel", Utterance: 0, ChunkSeq: 0},
		{Kind: Partial, Text: "hello", Utterance: 0, ChunkSeq: 1},
		{Kind: Final, Text: "hello world", Utterance: 0, ChunkSeq: 2},
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, w := range want {
		got := events[i]
		if got.Kind != w.Kind || got.Text != w.Text || got.Utterance != w.Utterance || got.ChunkSeq != w.ChunkSeq {
			t.Fatalf("event %d: got %+v, want %+v", i, got, w)
		}
	}
}

func TestEmptyResultsProduceNoEvents(t *testing.T) {
	steps, _ := ParseMockScript("-|p:   |f:|f:  |-")
	r := NewRecognizer(NewMockDecoder(steps), newLogger())
	if events := feed(t, r, 5); len(events) != 0 {
		t.Fatalf("expected no events, got %+v", events)
	}
	if evt, ok, err := r.Flush(); ok || err != nil {
		t.Fatalf("expected empty flush, got %+v %v %v", evt, ok, err)
	}
}

func TestUtteranceCounterAdvancesOnEachCommit(t *testing.T) {
	steps, _ := ParseMockScript("p:a|f:a|f:|p:b|f:b")
	r := NewRecognizer(NewMockDecoder(steps), newLogger())
	events := feed(t, r, 5)
	var finals []Event
	for _, e := range events {
		if e.Kind == Final {
			finals = append(finals, e)
		}
	}
	if len(finals) != 2 || finals[0].Utterance != 0 || finals[1].Utterance != 2 {
		t.Fatalf("unexpected finals %+v", finals)
	}
	if events[2].Kind != Partial || events[2].Utterance != 2 {
		t.Fatalf("partial after reset should belong to the new utterance: %+v", events[2])
	}
}

func TestMalformedPayloadIsSkipped(t *testing.T) {
	steps, _ := ParseMockScript("p:one|!|f:one two")
	r := NewRecognizer(NewMockDecoder(steps), newLogger())

	if _, ok, err := r.Accept(audio.Chunk{Seq: 0}); !ok || err != nil {
		t.Fatalf("expected partial, got ok=%v err=%v", ok, err)
	}
	_, ok, err := r.Accept(audio.Chunk{Seq: 1})
	if ok || !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected malformed skip, got ok=%v err=%v", ok, err)
	}
	evt, ok, err := r.Accept(audio.Chunk{Seq: 2})
	if !ok || err != nil || evt.Kind != Final || evt.Text != "one two" {
		t.Fatalf("decoder should continue after malformed payload: %+v %v %v", evt, ok, err)
	}
	stats := r.Stats()
	if stats.Chunks != 3 || stats.Partials != 1 || stats.Finals != 1 || stats.Malformed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestFlushCommitsTrailingPartial(t *testing.T) {
	steps, _ := ParseMockScript("f:first|p:trailing words")
	r := NewRecognizer(NewMockDecoder(steps), newLogger())
	feed(t, r, 2)
	evt, ok, err := r.Flush()
	if err != nil || !ok {
		t.Fatalf("expected flushed final, got ok=%v err=%v", ok, err)
	}
	if evt.Kind != Final || evt.Text != "trailing words" {
		t.Fatalf("unexpected flush event %+v", evt)
	}
}

func TestFinalsConcatenateToTranscript(t *testing.T) {
	script := "p:the|f:the quick|p:br|p:brown|f:brown fox|-|p:jumps|f:jumps"
	steps, _ := ParseMockScript(script)
	r := NewRecognizer(NewMockDecoder(steps), newLogger())
	var finals []string
	for _, e := range feed(t, r, len(steps)) {
		if e.Kind == Final {
			finals = append(finals, e.Text)
		}
	}
	if got := strings.Join(finals, " "); got != "the quick brown fox jumps" {
		t.Fatalf("unexpected finals %q", got)
	}
}

func TestParseMockScriptErrors(t *testing.T) {
	if _, err := ParseMockScript("p:ok|x:bad"); err == nil {
		t.Fatalf("expected error for unknown step")
	}
	steps, err := ParseMockScript("")
	if err != nil || steps != nil {
		t.Fatalf("expected empty script, got %v %v", steps, err)
	}
}

func TestParsePayloads(t *testing.T) {
	if text, err := parseFinal([]byte(`{"text": "hi"}`)); err != nil || text != "hi" {
		t.Fatalf("parseFinal: %q %v", text, err)
	}
	if _, err := parseFinal([]byte(`{"partial": "hi"}`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected missing text to be malformed, got %v", err)
	}
	if _, err := parsePartial([]byte(`not json`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected malformed, got %v", err)
	}
}
