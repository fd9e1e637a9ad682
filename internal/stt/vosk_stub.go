//go:build !vosk

package stt

import "fmt"

// VoskAvailable reports whether this binary links libvosk.
const VoskAvailable = false

// NewVoskDecoder is a placeholder for builds without the vosk tag.
func NewVoskDecoder(modelPath string, _ int) (Decoder, error) {
	return nil, fmt.Errorf("vosk support not compiled in (model %s); rebuild with -tags vosk", modelPath)
}
