// Package textsplit breaks long text into bounded chunks, preferring
// paragraph, line and sentence boundaries over hard cuts.
package textsplit

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order; the empty separator splits between
// characters and guarantees every chunk fits.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// New returns a splitter producing chunks of at most size characters that
// share up to overlap characters with the previous chunk.
func New(size, overlap int) *Splitter {
	if size <= 0 {
		size = 200
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
}

func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.split(text, s.Separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := ""
	var rest []string
	for i, c := range separators {
		if c == "" || strings.Contains(text, c) {
			sep = c
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, sep)
	}

	var out, fitting []string
	for _, p := range pieces {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if utf8.RuneCountInString(p) <= s.Size {
			fitting = append(fitting, p)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, s.merge(fitting, sep)...)
			fitting = nil
		}
		out = append(out, s.split(p, rest)...)
	}
	if len(fitting) > 0 {
		out = append(out, s.merge(fitting, sep)...)
	}
	return out
}

// merge greedily joins pieces with sep into chunks no longer than Size,
// seeding each new chunk with trailing pieces of the last one up to Overlap.
func (s *Splitter) merge(pieces []string, sep string) []string {
	sepLen := utf8.RuneCountInString(sep)
	joined := func(n int) int {
		if n > 0 {
			return sepLen
		}
		return 0
	}

	var docs, current []string
	total := 0
	for _, p := range pieces {
		l := utf8.RuneCountInString(p)
		if len(current) > 0 && total+l+joined(len(current)) > s.Size {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				docs = append(docs, doc)
			}
			for len(current) > 0 && (total > s.Overlap || total+l+joined(len(current)) > s.Size) {
				total -= utf8.RuneCountInString(current[0]) + joined(len(current)-1)
				current = current[1:]
			}
		}
		total += l + joined(len(current))
		current = append(current, p)
	}
	if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}
