// ABOUTME: English-text heuristics for the voice path.
// ABOUTME: Decides when a reply deserves audio and prepares text for synthesis pacing.

package voice

import (
	"regexp"
	"strings"
)

var (
	englishWord = regexp.MustCompile(`\b[A-Za-z\-]+\b`)
	englishRun  = regexp.MustCompile(`\b[A-Za-z\s.,;!?\-]+\b`)
)

// speakableThreshold is how many English word tokens a reply needs before
// synthesizing audio is worthwhile.
const speakableThreshold = 8

// EnglishWordCount returns the number of English word tokens in text.
func EnglishWordCount(text string) int {
	return len(englishWord.FindAllString(text, -1))
}

// Speakable reports whether text contains enough embedded English to justify
// a voice rendition.
func Speakable(text string) bool {
	return EnglishWordCount(text) > speakableThreshold
}

// PrepareText wraps each English run in commas so the synthesizer pauses
// between Chinese explanation and English example.
func PrepareText(text string) string {
	for _, run := range englishRun.FindAllString(text, -1) {
		text = strings.Replace(text, run, ","+run+",", 1)
	}
	return text
}
