// Package worldstate keeps NPCs aware of the active Canon.
package worldstate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agenthands/genesis/internal/core/common"
	"github.com/agenthands/genesis/internal/core/model"
	"github.com/agenthands/genesis/internal/llm"
	"github.com/agenthands/genesis/internal/logger"
)

// ChunkSize bounds how many events one summary prompt carries.
const ChunkSize = 20

// Store is the part of the graph store the summarizer needs.
type Store interface {
	ListCanonEvents(ctx context.Context, statuses ...model.CanonStatus) ([]model.CanonEvent, error)
	UpdateNPCAwareness(ctx context.Context, summary string, at time.Time) (int, error)
}

type Summarizer struct {
	LLM    llm.LLMClient
	Prompt string
	Store  Store
	Now    func() time.Time
	log    *logger.Logger
}

func NewSummarizer(client llm.LLMClient, prompt string, store Store, log *logger.Logger) *Summarizer {
	return &Summarizer{
		LLM:    client,
		Prompt: prompt,
		Store:  store,
		Now:    time.Now,
		log:    log.With("component", "worldstate"),
	}
}

// Summarize condenses events into a short world summary. Large inputs are
// summarized in chunks and reduced. When the model fails the summary falls
// back to a list of event titles, so it never returns an error.
func (s *Summarizer) Summarize(ctx context.Context, events []model.CanonEvent) string {
	if len(events) == 0 {
		return "The world is quiet."
	}
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		line := ev.Title
		if ev.Description != "" {
			line += ": " + ev.Description
		}
		lines = append(lines, line)
	}
	return s.reduce(ctx, lines)
}

func (s *Summarizer) reduce(ctx context.Context, lines []string) string {
	if len(lines) <= ChunkSize {
		summary, err := s.summarizeChunk(ctx, lines)
		if err != nil {
			s.log.Warn("world summary fell back to titles", "error", err)
			return fallback(lines)
		}
		return summary
	}

	var parts []string
	for i := 0; i < len(lines); i += ChunkSize {
		end := min(i+ChunkSize, len(lines))
		parts = append(parts, s.reduce(ctx, lines[i:end]))
	}
	return s.reduce(ctx, parts)
}

func (s *Summarizer) summarizeChunk(ctx context.Context, lines []string) (string, error) {
	if s.LLM == nil || s.Prompt == "" {
		return "", fmt.Errorf("no summarizer model configured")
	}
	response, err := s.LLM.Generate(ctx, fmt.Sprintf(s.Prompt, common.Bullets(lines)))
	if err != nil {
		return "", fmt.Errorf("failed to generate world summary: %w", llm.Classify(err, "world summary"))
	}
	result, err := common.ParseJSON[model.WorldSummary](response)
	if err != nil {
		return "", fmt.Errorf("failed to parse world summary: %w", err)
	}
	if strings.TrimSpace(result.Summary) == "" {
		return "", fmt.Errorf("empty world summary")
	}
	return strings.TrimSpace(result.Summary), nil
}

func fallback(lines []string) string {
	titles := make([]string, 0, len(lines))
	for _, l := range lines {
		title, _, _ := strings.Cut(l, ":")
		titles = append(titles, strings.TrimSpace(title))
	}
	return "Recent events: " + strings.Join(titles, "; ") + "."
}

// Refresh summarizes the active Canon and writes the summary to every NPC.
// It returns the number of NPCs updated.
func (s *Summarizer) Refresh(ctx context.Context) (int, error) {
	active, err := s.Store.ListCanonEvents(ctx, model.CanonActive)
	if err != nil {
		return 0, fmt.Errorf("failed to load active canon: %w", err)
	}
	summary := s.Summarize(ctx, active)
	n, err := s.Store.UpdateNPCAwareness(ctx, summary, s.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to update npc awareness: %w", err)
	}
	s.log.Info("world state refreshed", "events", len(active), "npcs", n)
	return n, nil
}
