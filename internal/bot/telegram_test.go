package bot

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessage_ShortTextUntouched(t *testing.T) {
	parts := splitMessage("سلام", 4000)
	require.Len(t, parts, 1)
	assert.Equal(t, "سلام", parts[0])
}

func TestSplitMessage_PrefersLineBreaks(t *testing.T) {
	text := strings.Repeat("روز اول: سینه و سرشانه\n", 40)
	parts := splitMessage(text, 200)

	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), 200)
		assert.True(t, utf8.ValidString(p), "chunks must not split runes")
	}
	joined := strings.Join(parts, "\n") + "\n"
	assert.Equal(t, strings.Count(text, "سینه"), strings.Count(joined, "سینه"))
}

func TestSplitMessage_NeverSplitsRunes(t *testing.T) {
	text := strings.Repeat("عضله", 200) // no line breaks at all
	for _, p := range splitMessage(text, 100) {
		assert.True(t, utf8.ValidString(p))
	}
}
