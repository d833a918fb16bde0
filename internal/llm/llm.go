package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/chronicle/internal/models"
)

// maxRecapEvents caps how much history goes into one prompt.
const maxRecapEvents = 60

// Recap is a short natural-language account of a session.
type Recap struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	NextStep string `json:"next_step"`
}

// Client wraps the Anthropic API for session recaps.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an LLM client with the given API key and model.
// Extra request options are passed to the SDK.
func NewClient(apiKey, model string, opts ...option.RequestOption) *Client {
	var all []option.RequestOption
	if apiKey != "" {
		all = append(all, option.WithAPIKey(apiKey))
	}
	all = append(all, opts...)
	client := anthropic.NewClient(all...)
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return string(c.model) }

// buildRecapPrompt constructs the system and user prompts for a session recap.
func buildRecapPrompt(s models.Session, rec models.SessionStatusRecord, events []models.Event) (system string, user string) {
	system = `You summarize AI coding-agent sessions for a developer glancing at a dashboard. Return a JSON object with exactly three fields:

- "headline": one short line (under 80 characters) saying what the session is doing or did
- "summary": 2-4 sentences describing the work so far, based only on the events given
- "next_step": what the developer should do now; say "nothing" if the session needs no attention

Rules:
- If the status is "awaiting", the next step must tell the developer the agent is waiting for them
- If the status is "error", mention the errors in the summary
- Do not invent files, tools or results that are not in the events
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session: %s\n", s.Title())
	if s.ProjectPath != "" {
		fmt.Fprintf(&sb, "Project: %s\n", s.ProjectPath)
	}
	if s.GitBranch != "" {
		fmt.Fprintf(&sb, "Branch: %s\n", s.GitBranch)
	}
	fmt.Fprintf(&sb, "Status: %s\n", rec.Status)
	fmt.Fprintf(&sb, "Idle for: %s\n", rec.IdleTime().Round(time.Second))
	if rec.ToolsInProgress > 0 {
		fmt.Fprintf(&sb, "Tools in progress: %d\n", rec.ToolsInProgress)
	}
	if rec.ErrorCount > 0 {
		fmt.Fprintf(&sb, "Errors: %d\n", rec.ErrorCount)
	}
	if rec.IsSubAgent {
		sb.WriteString("This is a sub-agent session.\n")
	}

	if len(events) > maxRecapEvents {
		fmt.Fprintf(&sb, "\n(%d earlier events omitted)\n", len(events)-maxRecapEvents)
		events = events[len(events)-maxRecapEvents:]
	}
	sb.WriteString("\nEvents, oldest first:\n")
	for _, e := range events {
		fmt.Fprintf(&sb, "- %s %s: %s\n", e.Timestamp.UTC().Format(time.TimeOnly), e.Type, e.Summary())
	}
	user = sb.String()
	return
}

// stripFencing removes a surrounding markdown code fence, if present.
func stripFencing(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// RecapSession asks the model for a recap of one session.
func (c *Client) RecapSession(ctx context.Context, s models.Session, rec models.SessionStatusRecord, events []models.Event) (*Recap, error) {
	systemPrompt, userPrompt := buildRecapPrompt(s, rec, events)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	text = stripFencing(text)
	var recap Recap
	if err := json.Unmarshal([]byte(text), &recap); err != nil {
		return nil, fmt.Errorf("parse LLM response as JSON: %w\nraw response: %s", err, text)
	}
	return &recap, nil
}
