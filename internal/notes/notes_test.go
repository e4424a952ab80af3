package notes_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/auralis-app/auralis/internal/notes"
	"github.com/auralis-app/auralis/pkg/provider/llm"
	"github.com/auralis-app/auralis/pkg/provider/llm/mock"
)

const transcript = "we agreed to ship the beta on friday and Dana will write the changelog"

func TestGenerate_StructuredNote(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: `{
				"title": "Beta release planning",
				"key_points": ["Beta release timing discussed"],
				"decisions": ["Ship the beta on Friday"],
				"action_items": ["Dana: write the changelog"]
			}`,
		},
	}
	g := notes.NewGenerator(p)

	note, err := g.Generate(context.Background(), "session-1", transcript)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if note.Degraded {
		t.Error("note should not be degraded on a valid response")
	}
	if note.Title != "Beta release planning" {
		t.Errorf("Title = %q", note.Title)
	}
	if len(note.KeyPoints) != 1 || len(note.Decisions) != 1 || len(note.ActionItems) != 1 {
		t.Errorf("unexpected summary shape: %+v", note)
	}
	if note.Transcript != transcript {
		t.Error("transcript not carried through")
	}
	if note.SessionID != "session-1" {
		t.Errorf("SessionID = %q", note.SessionID)
	}
}

func TestGenerate_StripsMarkdownFences(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{
			Content: "```json\n{\"title\": \"Sync\", \"key_points\": [\"one\"]}\n```",
		},
	}
	g := notes.NewGenerator(p)

	note, err := g.Generate(context.Background(), "s", transcript)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if note.Degraded || note.Title != "Sync" {
		t.Errorf("fenced JSON not parsed: %+v", note)
	}
}

func TestGenerate_MalformedResponseDegrades(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "Sure! Here are your notes:"},
	}
	g := notes.NewGenerator(p)

	note, err := g.Generate(context.Background(), "s", transcript)
	if err != nil {
		t.Fatalf("malformed response must not be an error, got %v", err)
	}
	if !note.Degraded {
		t.Error("note should be degraded on unparseable response")
	}
	if note.Transcript != transcript {
		t.Error("degraded note must keep the transcript")
	}
}

func TestGenerate_ProviderErrorDegradesWithError(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteErr: errors.New("rate limited")}
	g := notes.NewGenerator(p)

	note, err := g.Generate(context.Background(), "s", transcript)
	if err == nil {
		t.Fatal("provider error should surface")
	}
	if note == nil || !note.Degraded || note.Transcript != transcript {
		t.Errorf("degraded note missing or incomplete: %+v", note)
	}
}

func TestGenerate_EmptyTranscriptSkipsLLM(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{}
	g := notes.NewGenerator(p)

	note, err := g.Generate(context.Background(), "s", "   ")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !note.Degraded {
		t.Error("empty transcript yields a degraded note")
	}
	if len(p.CompleteCalls) != 0 {
		t.Errorf("LLM called %d times for empty transcript, want 0", len(p.CompleteCalls))
	}
}

func TestGenerate_SendsTranscriptToModel(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: `{"title": "x", "key_points": ["y"]}`},
	}
	g := notes.NewGenerator(p, notes.WithTemperature(0.5), notes.WithMaxTokens(512))

	if _, err := g.Generate(context.Background(), "s", transcript); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(p.CompleteCalls) != 1 {
		t.Fatalf("LLM called %d times, want 1", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	if req.Temperature != 0.5 || req.MaxTokens != 512 {
		t.Errorf("options not applied: %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages: %+v", req.Messages)
	}
	if got := req.Messages[0].Content; !strings.Contains(got, transcript) {
		t.Errorf("transcript not in user message: %q", got)
	}
	if req.SystemPrompt == "" {
		t.Error("system prompt missing")
	}
}
