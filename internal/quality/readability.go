package quality

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	fencedCode = regexp.MustCompile("(?s)```.*?```")
	inlineCode = regexp.MustCompile("`[^`]*`")
	linkTarget = regexp.MustCompile(`\]\([^)]*\)`)
	wordToken  = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)
	terminator = regexp.MustCompile(`[.!?]+`)
)

// TextStats holds the counts readability is computed from.
type TextStats struct {
	Words     int
	Sentences int
	Syllables int
}

// CountWords returns the number of words in content, code included.
func CountWords(content string) int {
	return len(wordToken.FindAllString(content, -1))
}

// Analyze computes prose statistics for markdown content. Code is ignored and
// every non-empty line that lacks a terminator counts as one sentence, so
// headings and list items do not merge into one run-on sentence.
func Analyze(content string) TextStats {
	text := fencedCode.ReplaceAllString(content, " ")
	text = inlineCode.ReplaceAllString(text, " ")
	text = linkTarget.ReplaceAllString(text, "]")

	var stats TextStats
	for _, line := range strings.Split(text, "\n") {
		words := wordToken.FindAllString(line, -1)
		if len(words) == 0 {
			continue
		}
		stats.Words += len(words)
		for _, w := range words {
			stats.Syllables += countSyllables(w)
		}

		trimmed := strings.TrimSpace(line)
		n := len(terminator.FindAllStringIndex(trimmed, -1))
		if !strings.ContainsAny(trimmed[len(trimmed)-1:], ".!?") {
			n++
		}
		stats.Sentences += n
	}
	return stats
}

// FleschReadingEase scores content from 0 (hard) to 100 (easy). The raw
// formula is clamped to that range. Empty content scores 0.
func FleschReadingEase(content string) float64 {
	s := Analyze(content)
	if s.Words == 0 || s.Sentences == 0 {
		return 0
	}
	score := 206.835 -
		1.015*(float64(s.Words)/float64(s.Sentences)) -
		84.6*(float64(s.Syllables)/float64(s.Words))
	return clamp(score, 0, 100)
}

// countSyllables estimates syllables by counting vowel groups.
func countSyllables(word string) int {
	w := strings.ToLower(word)
	if strings.IndexFunc(w, unicode.IsLetter) < 0 {
		return 1 // numbers
	}

	count := 0
	prevVowel := false
	for _, r := range w {
		v := strings.ContainsRune("aeiouy", r)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}

	if count > 1 && strings.HasSuffix(w, "e") && !strings.HasSuffix(w, "le") {
		count--
	}
	if count == 0 {
		count = 1
	}
	return count
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
