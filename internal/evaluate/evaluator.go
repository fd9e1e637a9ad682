package evaluate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNoReference means there was nothing to compare against. It is a
	// skip, not a failure.
	ErrNoReference = errors.New("no reference transcript")
	// ErrMetricsLog wraps failures to append to the metrics log. The
	// record itself was computed and is still returned.
	ErrMetricsLog = errors.New("metrics log write failed")
)

// MetricRecord is one evaluation run.
type MetricRecord struct {
	Timestamp       time.Time
	ReferenceWords  int
	HypothesisWords int
	WER             float64
}

// MetricsLog receives one record per evaluation run.
type MetricsLog interface {
	Append(MetricRecord) error
}

// FileMetricsLog appends human-readable blocks to a text file:
//
//	Timestamp: 2025-01-02 15:04:05.000000
//	Reference length: 4 words
//	Hypothesis length: 3 words
//	WER: 0.25
type FileMetricsLog struct {
	Path string
}

func (l FileMetricsLog) Append(rec MetricRecord) error {
	if dir := filepath.Dir(l.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(l.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(FormatRecord(rec)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func FormatRecord(rec MetricRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Timestamp: %s\n", rec.Timestamp.Format("2006-01-02 15:04:05.000000"))
	fmt.Fprintf(&b, "Reference length: %d words\n", rec.ReferenceWords)
	fmt.Fprintf(&b, "Hypothesis length: %d words\n", rec.HypothesisWords)
	fmt.Fprintf(&b, "WER: %.2f\n\n", rec.WER)
	return b.String()
}

// Evaluator scores the persisted transcript against an optional reference.
type Evaluator struct {
	ReferencePath  string
	HypothesisPath string
	Comparator     Comparator
	Log            MetricsLog
	Clock          func() time.Time
}

// Evaluate reads both files from disk. A missing reference or hypothesis
// returns ErrNoReference and nothing is written. A metrics log failure
// returns the computed record together with an error wrapping ErrMetricsLog.
func (e *Evaluator) Evaluate() (MetricRecord, error) {
	reference, err := readOptional(e.ReferencePath)
	if err != nil {
		return MetricRecord{}, err
	}
	hypothesis, err := readOptional(e.HypothesisPath)
	if err != nil {
		return MetricRecord{}, err
	}

	cmp := e.Comparator
	if cmp == nil {
		cmp = WordComparator{}
	}
	wer, err := cmp.WER(reference, hypothesis)
	if err != nil {
		return MetricRecord{}, fmt.Errorf("compute wer: %w", err)
	}

	clock := e.Clock
	if clock == nil {
		clock = time.Now
	}
	rec := MetricRecord{
		Timestamp:       clock(),
		ReferenceWords:  len(Words(reference)),
		HypothesisWords: len(Words(hypothesis)),
		WER:             wer,
	}
	if e.Log != nil {
		if err := e.Log.Append(rec); err != nil {
			return rec, fmt.Errorf("%w: %v", ErrMetricsLog, err)
		}
	}
	return rec, nil
}

func readOptional(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNoReference, path)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
