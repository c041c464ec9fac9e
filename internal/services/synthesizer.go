package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"studentquery/internal/llm"
	"studentquery/internal/models"
)

const synthesizerSystemPrompt = `You are an academic advisor assistant. Answer the student's question
using only the data provided below. Be concise and specific. If a data source
failed, acknowledge the gap honestly instead of guessing.`

const directSystemPrompt = `You are an academic advisor assistant for a university. Answer the
student's question helpfully. You have no access to their records in this
conversation, so keep answers general and suggest asking about specific
records when relevant.`

// Synthesizer turns fetched source data into a natural-language answer
type Synthesizer struct {
	chatter Chatter
}

// NewSynthesizer creates a synthesizer backed by the given LLM client
func NewSynthesizer(chatter Chatter) *Synthesizer {
	return &Synthesizer{chatter: chatter}
}

// Synthesize produces an answer from the collected source data. Failed
// sources are named so the model can acknowledge missing information.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, data map[string]interface{}, failedSources []string, history []models.ConversationTurn) (string, error) {
	var sb strings.Builder
	sb.WriteString(synthesizerSystemPrompt)
	sb.WriteString("\n\nStudent data:\n")

	dataJSON, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode source data: %w", err)
	}
	sb.Write(dataJSON)

	if len(failedSources) > 0 {
		sb.WriteString("\n\nThese data sources failed and their data is unavailable: ")
		sb.WriteString(strings.Join(failedSources, ", "))
	}

	appendHistory(&sb, history)

	answer, err := s.chatter.Complete(ctx, llm.ChatRequest{
		Model:       s.chatter.SynthesizerModel(),
		System:      sb.String(),
		User:        question,
		Temperature: 0.3,
	})
	if err != nil {
		if m := GetMetrics(); m != nil {
			m.RecordLLMError("synthesize")
		}
		return "", fmt.Errorf("failed to synthesize answer: %w", err)
	}
	return answer, nil
}

// Direct answers a question that needs no student data
func (s *Synthesizer) Direct(ctx context.Context, question string, history []models.ConversationTurn) (string, error) {
	var sb strings.Builder
	sb.WriteString(directSystemPrompt)
	appendHistory(&sb, history)

	answer, err := s.chatter.Complete(ctx, llm.ChatRequest{
		Model:       s.chatter.SynthesizerModel(),
		System:      sb.String(),
		User:        question,
		Temperature: 0.3,
	})
	if err != nil {
		if m := GetMetrics(); m != nil {
			m.RecordLLMError("synthesize")
		}
		return "", fmt.Errorf("failed to answer directly: %w", err)
	}
	return answer, nil
}

// appendHistory writes recent turns oldest-first so the model reads the
// conversation in natural order
func appendHistory(sb *strings.Builder, history []models.ConversationTurn) {
	if len(history) == 0 {
		return
	}
	sb.WriteString("\n\nRecent conversation:\n")
	for i := len(history) - 1; i >= 0; i-- {
		turn := history[i]
		fmt.Fprintf(sb, "Student: %s\nAssistant: %s\n", turn.Question, turn.Answer)
	}
}
