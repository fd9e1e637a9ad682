package stt

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// NewDecoder builds the decoder selected by cfg.Mode. The acoustic model is
// loaded here, once per process.
func NewDecoder(cfg config.STTConfig, sampleRate int, logger *slog.Logger) (Decoder, error) {
	switch cfg.Mode {
	case "vosk":
		return NewVoskDecoder(cfg.ModelPath, sampleRate)
	case "exec":
		return NewExecDecoder(cfg.Command, cfg.ModelPath, sampleRate, logger)
	case "mock":
		steps, err := ParseMockScript(cfg.MockScript)
		if err != nil {
			return nil, err
		}
		return NewMockDecoder(steps), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
