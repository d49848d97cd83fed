package stream

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One. Two!  Three? v1.2 stays\nline two")
	assert.Equal(t, []string{"One. ", "Two!  ", "Three? ", "v1.2 stays\n", "line two"}, got)
	assert.Equal(t, []string{"证明。", "完成！"}, splitSentences("证明。完成！"))
	assert.Nil(t, splitSentences(""))
}

func TestSplitChunksIsLossless(t *testing.T) {
	inputs := []string{
		"",
		"short",
		strings.Repeat("Lemma holds. ", 60),
		"theorem add_zero (n : Nat) : n + 0 = n := by\n  induction n with\n  | zero => rfl\n  | succ k ih => simp\n",
		"Para one.\n\nPara two.\n\n\nPara three.",
		strings.Repeat("无标点的中文文本", 50),
	}
	for _, in := range inputs {
		assert.Equal(t, in, strings.Join(SplitChunks(in, 200), ""))
	}
}

func TestSplitChunksThreshold(t *testing.T) {
	text := strings.Repeat("Sentence number xx. ", 30)
	chunks := SplitChunks(text, 200)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks[:len(chunks)-1] {
		// each flushed chunk is the first point past the threshold
		n := utf8.RuneCountInString(c)
		assert.Greater(t, n, 200)
		assert.LessOrEqual(t, n, 200+len("Sentence number xx. "))
	}
}

func TestSplitChunksParagraphBoundary(t *testing.T) {
	chunks := SplitChunks("First idea.\n\nSecond idea.", 200)
	assert.Equal(t, []string{"First idea.\n\n", "Second idea."}, chunks)
}
