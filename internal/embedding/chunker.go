package embedding

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ChunkerVersion is part of the cache key. Bump it when Chunk output changes.
const ChunkerVersion = "c1"

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

type piece struct {
	text string
	sep  string // joins this piece to the previous one
}

// Chunk splits text into pieces of at most limit runes. Paragraphs are kept
// whole when they fit; longer ones fall back to sentences, then to hard
// splits. Pieces are packed greedily. Output is deterministic.
func Chunk(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var pieces []piece
	for _, para := range paragraphBreak.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if utf8.RuneCountInString(para) <= limit {
			pieces = append(pieces, piece{text: para, sep: "\n\n"})
			continue
		}
		first := true
		for _, sentence := range splitSentences(para) {
			for _, part := range hardSplit(sentence, limit) {
				sep := " "
				if first {
					sep = "\n\n"
					first = false
				}
				pieces = append(pieces, piece{text: part, sep: sep})
			}
		}
	}

	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	for _, p := range pieces {
		n := utf8.RuneCountInString(p.text)
		if curLen > 0 && curLen+utf8.RuneCountInString(p.sep)+n <= limit {
			cur.WriteString(p.sep)
			cur.WriteString(p.text)
			curLen += utf8.RuneCountInString(p.sep) + n
			continue
		}
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		cur.WriteString(p.text)
		curLen = n
	}
	if curLen > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// splitSentences breaks after ". ", "! ", "? " and at newlines.
func splitSentences(s string) []string {
	var out []string
	runes := []rune(s)
	start := 0
	emit := func(end int) {
		if t := strings.TrimSpace(string(runes[start:end])); t != "" {
			out = append(out, t)
		}
		start = end
	}
	for i, r := range runes {
		switch r {
		case '\n':
			emit(i + 1)
		case '.', '!', '?':
			if i+1 < len(runes) && (runes[i+1] == ' ' || runes[i+1] == '\t') {
				emit(i + 1)
			}
		}
	}
	emit(len(runes))
	return out
}

func hardSplit(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}
	var out []string
	for len(runes) > 0 {
		n := min(limit, len(runes))
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}
