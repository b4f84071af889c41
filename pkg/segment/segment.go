// Package segment splits extracted document text into review segments.
// Segment boundaries prefer paragraph breaks, then line breaks, then
// sentence ends, falling back to hard splits for pathological input.
package segment

import (
	"strings"
	"unicode/utf8"
)

// Options controls segmentation. The zero value is replaced by Defaults.
type Options struct {
	// MaxRunes is the upper bound on a segment's length.
	MaxRunes int
}

func Defaults() Options {
	return Options{MaxRunes: 1200}
}

// Segment is one reviewable slice of a document.
type Segment struct {
	Text  string
	Index int
}

// Split divides text into segments no longer than opts.MaxRunes.
// Empty and whitespace-only slices are discarded.
func Split(text string, opts Options) []Segment {
	if opts.MaxRunes <= 0 {
		opts = Defaults()
	}

	var segs []Segment
	for _, part := range split(text, boundaries, opts.MaxRunes) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		segs = append(segs, Segment{Text: part, Index: len(segs)})
	}
	return segs
}

// Count reports how many segments Split would produce.
func Count(text string, opts Options) int {
	return len(Split(text, opts))
}

var boundaries = []string{"\n\n", "\n", ". ", " "}

func split(text string, seps []string, max int) []string {
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	if len(seps) == 0 {
		return hardSplit(text, max)
	}

	sep := seps[0]
	var out []string
	var cur strings.Builder
	for _, piece := range strings.Split(text, sep) {
		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+utf8.RuneCountInString(sep+piece) > max {
			out = append(out, split(cur.String(), seps[1:], max)...)
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(piece)
	}
	if cur.Len() > 0 {
		out = append(out, split(cur.String(), seps[1:], max)...)
	}
	return out
}

func hardSplit(text string, max int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += max {
		end := start + max
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
