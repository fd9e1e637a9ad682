//go:build vosk

package stt

import (
	"fmt"

	vosk "github.com/alphacep/vosk-api/go"
)

type voskDecoder struct {
	model *vosk.VoskModel
	rec   *vosk.VoskRecognizer
}

// VoskAvailable reports whether this binary links libvosk.
const VoskAvailable = true

// NewVoskDecoder loads the model directory once and opens a recognizer for
// the session sample rate.
func NewVoskDecoder(modelPath string, sampleRate int) (Decoder, error) {
	vosk.SetLogLevel(-1)
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load vosk model %s: %w", modelPath, err)
	}
	rec, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("create vosk recognizer: %w", err)
	}
	return &voskDecoder{model: model, rec: rec}, nil
}

func (d *voskDecoder) AcceptWaveform(pcm []byte) (bool, error) {
	switch d.rec.AcceptWaveform(pcm) {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("vosk rejected waveform")
	}
}

func (d *voskDecoder) Result() []byte        { return []byte(d.rec.Result()) }
func (d *voskDecoder) PartialResult() []byte { return []byte(d.rec.PartialResult()) }
func (d *voskDecoder) FinalResult() []byte   { return []byte(d.rec.FinalResult()) }

func (d *voskDecoder) Close() error {
	d.rec.Free()
	d.model.Free()
	return nil
}
