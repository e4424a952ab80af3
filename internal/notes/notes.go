// Package notes turns a finished meeting transcript into structured meeting
// notes using an [llm.Provider].
//
// The generator runs exclusively after a session ends — never on the live
// audio path — so model latency does not matter here. It is built to degrade:
// whatever the model does, the caller always gets a usable [Note] carrying at
// least the transcript.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/auralis-app/auralis/pkg/provider/llm"
)

const (
	defaultTemperature = 0.2
	defaultMaxTokens   = 2048
)

// systemPrompt instructs the model to summarise a meeting transcript into
// structured notes.
const systemPrompt = `You are a meeting notes assistant.

Your task: read the meeting transcript provided by the user and produce concise, factual meeting notes.

Rules:
- Base every item strictly on the transcript. Do NOT invent facts, names, or dates.
- "key_points" are the main topics discussed, one short sentence each.
- "decisions" are agreements explicitly reached in the meeting. Omit the array items if none were reached.
- "action_items" are concrete follow-ups, each starting with the responsible person's name when the transcript names one.
- "title" is a short descriptive title for the meeting, at most eight words.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "title": "<meeting title>",
  "key_points": ["<point>"],
  "decisions": ["<decision>"],
  "action_items": ["<action item>"]
}`

// Note is the structured summary of one recorded meeting.
type Note struct {
	// SessionID links the note to the recording it was generated from.
	SessionID string

	// Title is a short model-generated meeting title.
	Title string

	// KeyPoints, Decisions, and ActionItems are the structured summary.
	KeyPoints   []string
	Decisions   []string
	ActionItems []string

	// Transcript is the full corrected transcript the note was built from.
	Transcript string

	// GeneratedAt is when the note was produced.
	GeneratedAt time.Time

	// Degraded is true when the summarisation stage failed and the note
	// carries only the transcript.
	Degraded bool
}

// llmNote is the expected JSON structure returned by the model.
type llmNote struct {
	Title       string   `json:"title"`
	KeyPoints   []string `json:"key_points"`
	Decisions   []string `json:"decisions"`
	ActionItems []string `json:"action_items"`
}

// Option is a functional option for configuring a [Generator].
type Option func(*Generator)

// WithTemperature sets the sampling temperature. Default: 0.2.
func WithTemperature(temp float64) Option {
	return func(g *Generator) {
		g.temperature = temp
	}
}

// WithMaxTokens caps the completion length. Default: 2048.
func WithMaxTokens(n int) Option {
	return func(g *Generator) {
		g.maxTokens = n
	}
}

// Generator produces meeting notes from transcripts. It is safe for
// concurrent use.
type Generator struct {
	llm         llm.Provider
	temperature float64
	maxTokens   int
}

// NewGenerator returns a Generator backed by the given provider.
func NewGenerator(provider llm.Provider, opts ...Option) *Generator {
	g := &Generator{
		llm:         provider,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Generate summarises transcript into a Note.
//
// Generate never returns a nil Note. When the model call fails, the returned
// note is transcript-only with Degraded set, alongside the error so the
// caller can log it. An unparseable model response also degrades, but is not
// an error — the transcript survives either way.
func (g *Generator) Generate(ctx context.Context, sessionID, transcript string) (*Note, error) {
	note := &Note{
		SessionID:   sessionID,
		Transcript:  transcript,
		GeneratedAt: time.Now().UTC(),
		Degraded:    true,
	}

	if strings.TrimSpace(transcript) == "" {
		return note, nil
	}

	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  g.temperature,
		MaxTokens:    g.maxTokens,
		Messages: []llm.Message{
			{Role: "user", Content: "Transcript:\n\n" + transcript},
		},
	})
	if err != nil {
		return note, fmt.Errorf("notes: complete: %w", err)
	}

	parsed, parseErr := parseNote(resp.Content)
	if parseErr != nil {
		// The transcript is the part that must not be lost; a malformed
		// summary is dropped silently.
		return note, nil
	}

	note.Title = parsed.Title
	note.KeyPoints = parsed.KeyPoints
	note.Decisions = parsed.Decisions
	note.ActionItems = parsed.ActionItems
	note.Degraded = false
	return note, nil
}

// parseNote unmarshals the model output, stripping markdown code fences that
// some models wrap around JSON.
func parseNote(content string) (*llmNote, error) {
	cleaned := stripMarkdown(content)

	var n llmNote
	if err := json.Unmarshal([]byte(cleaned), &n); err != nil {
		return nil, fmt.Errorf("notes: parse response: %w", err)
	}
	if n.Title == "" && len(n.KeyPoints) == 0 && len(n.Decisions) == 0 && len(n.ActionItems) == 0 {
		return nil, fmt.Errorf("notes: empty response object")
	}
	return &n, nil
}

// stripMarkdown removes optional ```json fences.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
