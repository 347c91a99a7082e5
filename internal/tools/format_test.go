package tools

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestPreviewText_CutKeepsValidUTF8(t *testing.T) {
	// Three-byte runes put the preview cut in the middle of a rune.
	long := strings.Repeat("€", 100)
	got := previewText(long, "")
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), previewChars)
}

func TestPreviewText_Empty(t *testing.T) {
	assert.Equal(t, "(empty)", previewText("", ""))
}
