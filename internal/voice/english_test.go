// ABOUTME: Tests for the English-text heuristics.
// ABOUTME: Validates word counting, the speakable threshold, and pause insertion.

package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnglishWordCount(t *testing.T) {
	assert.Equal(t, 0, EnglishWordCount("这句话没有英文"))
	assert.Equal(t, 3, EnglishWordCount(`这个短语 "against all odds" 的意思`))
	assert.Equal(t, 2, EnglishWordCount("self-care 和 well-being"))
}

func TestSpeakable_BelowThreshold(t *testing.T) {
	assert.False(t, Speakable(`这个短语 "bite the bullet" 意思是硬着头皮`))
}

func TestSpeakable_AboveThreshold(t *testing.T) {
	text := `你可以说 "I'm feeling a bit unwell these days, so I might not be able to come tomorrow."`
	assert.True(t, Speakable(text))
}

func TestPrepareText_WrapsEnglishRuns(t *testing.T) {
	got := PrepareText(`你可以说 hello world 来打招呼`)
	assert.Contains(t, got, ",hello world")
}

func TestPrepareText_NoEnglish(t *testing.T) {
	text := "这句话完全是中文"
	assert.Equal(t, text, PrepareText(text))
}
