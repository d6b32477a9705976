package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessagePreview(t *testing.T) {
	t.Run("short text passes through", func(t *testing.T) {
		assert.Equal(t, "hello", MessagePreview("hello"))
	})

	t.Run("long text truncates to the limit", func(t *testing.T) {
		got := MessagePreview(strings.Repeat("a", 250))
		assert.Len(t, got, previewLimit)
	})

	t.Run("truncation counts runes not bytes", func(t *testing.T) {
		got := MessagePreview(strings.Repeat("ü", 150))
		assert.Equal(t, previewLimit, len([]rune(got)))
	})

	t.Run("attachment-only placeholder", func(t *testing.T) {
		assert.Equal(t, "Sent an attachment", MessagePreview(""))
	})
}

func TestHasContent(t *testing.T) {
	assert.False(t, (&Message{}).HasContent())
	assert.True(t, (&Message{Text: "hi"}).HasContent())
	assert.True(t, (&Message{Attachment: "file.png"}).HasContent())
}

func TestHasMember(t *testing.T) {
	conv := &Conversation{MemberIDs: []string{"a", "b"}}
	assert.True(t, conv.HasMember("a"))
	assert.False(t, conv.HasMember("c"))
}
