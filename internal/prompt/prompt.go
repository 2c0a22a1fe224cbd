// Package prompt turns the three request blocks into the text sent to the
// model: the per-turn user message for the assistant variant and the single
// self-contained prompt for the completion variant.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/prodscribe/internal/payload"
)

const (
	// ContextLabel opens every assembled user message.
	ContextLabel = "Context for this turn:"

	// Trigger is appended to the context block and asks for the description.
	Trigger = "כתוב תיאור מוצר מותאם אישית בעברית לפי ההוראות וההקשר."

	// AssistantDescription is the description registered with the assistant.
	AssistantDescription = "Assistant that generates a personalized product description paragraph."
)

const baseInstructions = `You are a product personalization assistant. Your role is to generate engaging, persuasive, and fully personalized product description paragraphs in Hebrew, aligned to the right for proper Hebrew readability.

You will receive three structured JSON inputs:

Product Information:
Accurately incorporate all product details into the generated paragraph. Do not omit or generalize; include concrete specs, capabilities, and relevant highlights.

User Personal Information:
Use this input sparingly and discreetly. Do not refer to personal details directly or explicitly. Weave this data into the description subtly so the personalization is not obvious and never feels invasive.

User Provided Information:
Use this information prominently and directly. It guides the narrative and forms the foundation for relevance and persuasive impact.

You may enrich your output with additional product insights from official, reputable sources only. Ensure all external data is factually accurate and current.`

const oneShotNote = `This is a one-shot invocation: do not ask clarifying questions. Produce the output based solely on the provided JSON and instructions.`

const outputRules = `Your final output must always:
- be written in fluent Hebrew, aligned right-to-left;
- be a single, cohesive paragraph (not bullet points or lists);
- present the full product offering, integrating all product details accurately;
- match the user's explicitly stated context and needs with a natural, friendly, and enthusiastic tone;
- respect the user's privacy by using personal information only in a nuanced way.`

// Instructions returns the system instructions registered with the assistant.
func Instructions() string {
	return baseInstructions + "\n\n" + oneShotNote + "\n\n" + outputRules
}

// UserMessage builds the assistant-variant turn: the context block followed
// by a blank line and the trigger sentence. Output is byte-for-byte stable
// for equal inputs.
func UserMessage(in payload.Input) (string, error) {
	ctx, err := ContextBlock(in)
	if err != nil {
		return "", err
	}
	return ctx + "\n\n" + Trigger, nil
}

// ContextBlock renders the label line and the indented JSON of all three
// blocks. Non-ASCII text is kept literal.
func ContextBlock(in payload.Input) (string, error) {
	body, err := renderJSON(in.Normalize())
	if err != nil {
		return "", fmt.Errorf("rendering context: %w", err)
	}
	return ContextLabel + "\n" + body, nil
}

// CompletionPrompt builds the single user message for the completion
// variant: instructions followed by each block under its own heading.
func CompletionPrompt(in payload.Input) (string, error) {
	in = in.Normalize()

	sections := []struct {
		title string
		block map[string]any
	}{
		{"User Personal Information", in.UserPersonalInformation},
		{"User Provided Information", in.UserProvidedInformation},
		{"Product Information", in.ProductInfo},
	}

	var sb strings.Builder
	sb.WriteString(baseInstructions)
	sb.WriteString("\n\n")
	sb.WriteString(outputRules)
	for _, s := range sections {
		body, err := renderJSON(s.block)
		if err != nil {
			return "", fmt.Errorf("rendering %s: %w", strings.ToLower(s.title), err)
		}
		fmt.Fprintf(&sb, "\n\n%s:\n%s", s.title, body)
	}
	return sb.String(), nil
}

func renderJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
