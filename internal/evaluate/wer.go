package evaluate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// ErrEmptyReference is returned when the reference has no words; WER is
// undefined in that case.
var ErrEmptyReference = errors.New("reference transcript is empty")

// Comparator scores a hypothesis against a reference.
type Comparator interface {
	WER(reference, hypothesis string) (float64, error)
}

// WordComparator computes word error rate: the word-level edit distance
// (substitutions, deletions, insertions) divided by the reference length.
// Words are whitespace-separated and compared case-sensitively.
type WordComparator struct{}

func (WordComparator) WER(reference, hypothesis string) (float64, error) {
	ref := Words(reference)
	if len(ref) == 0 {
		return 0, ErrEmptyReference
	}
	hyp := Words(hypothesis)
	a, b, err := encodeWords(ref, hyp)
	if err != nil {
		return 0, err
	}
	distance := levenshtein.ComputeDistance(a, b)
	return float64(distance) / float64(len(ref)), nil
}

// Words splits on any run of whitespace.
func Words(s string) []string {
	return strings.Fields(s)
}

// Private-use ranges, so every distinct word becomes one rune and the rune
// edit distance equals the word edit distance.
var runeRanges = [][2]rune{
	{0xE000, 0xF8FF},
	{0xF0000, 0xFFFFD},
	{0x100000, 0x10FFFD},
}

func encodeWords(ref, hyp []string) (string, string, error) {
	vocab := make(map[string]rune)
	next := 0
	encode := func(words []string) (string, error) {
		var b strings.Builder
		for _, w := range words {
			r, ok := vocab[w]
			if !ok {
				var err error
				r, err = runeForIndex(next)
				if err != nil {
					return "", err
				}
				vocab[w] = r
				next++
			}
			b.WriteRune(r)
		}
		return b.String(), nil
	}
	a, err := encode(ref)
	if err != nil {
		return "", "", err
	}
	b, err := encode(hyp)
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

func runeForIndex(i int) (rune, error) {
	for _, rr := range runeRanges {
		size := int(rr[1]-rr[0]) + 1
		if i < size {
			return rr[0] + rune(i), nil
		}
		i -= size
	}
	return 0, fmt.Errorf("vocabulary too large for wer comparison")
}
