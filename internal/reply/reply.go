// Package reply locates the generated text in a finished run or a chat
// completion response.
package reply

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/kalambet/prodscribe/internal/shape"
)

// ErrNoChoices is returned when a completion response carries no usable
// first choice.
var ErrNoChoices = errors.New("completion response has no message content")

// MessageLister lists the messages of a thread in the given order.
type MessageLister interface {
	ListMessages(ctx context.Context, threadID, order string) (shape.Value, error)
}

// FromRun returns the assistant reply for a succeeded run. It first scans
// output.messages for the first assistant entry, then falls back to the
// last message of the thread. threadID is used when the run snapshot does
// not name its thread. An empty result means no reply was found.
func FromRun(ctx context.Context, run shape.Value, lister MessageLister, threadID string) string {
	if text, ok := fromOutput(run.Path("output", "messages")); ok {
		return text
	}

	if id := run.Str("thread_id"); id != "" {
		threadID = id
	}
	if threadID == "" || lister == nil {
		return ""
	}

	list, err := lister.ListMessages(ctx, threadID, "asc")
	if err != nil {
		slog.Warn("listing thread messages failed", "thread_id", threadID, "error", err)
		return ""
	}
	return lastMessageText(list)
}

// fromOutput only inspects the first assistant entry. An entry whose
// content renders empty is treated as not found, so the caller falls back
// to the thread messages instead of returning an empty reply.
func fromOutput(messages shape.Value) (string, bool) {
	for _, msg := range messages.Items() {
		if msg.Str("role") != "assistant" {
			continue
		}
		content := msg.Get("content")
		if content.IsAbsent() || content.Text() == "" {
			content = msg.Get("text")
		}
		text := contentText(content)
		return text, text != ""
	}
	return "", false
}

func contentText(v shape.Value) string {
	switch v.Kind() {
	case shape.KindAbsent:
		return ""
	case shape.KindList:
		items := v.Items()
		parts := make([]string, 0, len(items))
		for _, it := range items {
			parts = append(parts, it.Text())
		}
		return strings.Join(parts, " ")
	case shape.KindScalar:
		return v.Text()
	default:
		return v.Get("value").Text()
	}
}

func lastMessageText(list shape.Value) string {
	items := list.Get("data").Items()
	if len(items) == 0 {
		return ""
	}
	blocks := items[len(items)-1].Get("content").Items()
	if len(blocks) == 0 {
		return ""
	}
	first := blocks[0]
	if text := first.Path("text", "value").Text(); text != "" {
		return text
	}
	return first.Text()
}

// FromCompletion returns choices[0].message.content of a chat completion.
func FromCompletion(resp shape.Value) (string, error) {
	choices := resp.Get("choices").Items()
	if len(choices) == 0 {
		return "", ErrNoChoices
	}
	content := choices[0].Path("message", "content").Text()
	if content == "" {
		return "", ErrNoChoices
	}
	return content, nil
}
