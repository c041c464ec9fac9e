package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"studentquery/internal/llm"
	"studentquery/internal/models"
)

// Chatter is the slice of the LLM client the analyzer and synthesizer need.
// Defined here so tests can substitute a canned implementation.
type Chatter interface {
	Complete(ctx context.Context, req llm.ChatRequest) (string, error)
	AnalyzerModel() string
	SynthesizerModel() string
}

// DefaultSources is the fallback fan-out used when intent analysis fails.
// Profile plus course history answers most academic questions.
var DefaultSources = []models.SourceRequest{
	{Source: "GetStudentData"},
	{Source: "GetStudentCourses"},
}

const analyzerSystemPrompt = `You are an intent analyzer for a student academic records assistant.
Given a student's question, decide which data sources are needed to answer it.

Available sources:
- GetStudentData: student profile (name, ID, contact, admission info)
- GetStudentCourses: full course history with grades and credits
- GetStudentCurrentDegree: the student's active degree program and GPA
- GetProgramDetails: degree program requirements and curriculum (params: programId)
- GetEnrollmentStatus: current term enrollment and registration holds

Respond with JSON only, in this exact shape:
{"requiredData": [{"source": "GetStudentData", "params": {}}]}

If the question can be answered without any student data (greetings, general
questions about how to use the assistant), return {"requiredData": []}.`

// Analyzer classifies a question into the set of data sources required to
// answer it
type Analyzer struct {
	chatter Chatter
	known   map[string]bool
}

// NewAnalyzer creates an analyzer restricted to the given source names
func NewAnalyzer(chatter Chatter, knownSources []string) *Analyzer {
	known := make(map[string]bool, len(knownSources))
	for _, s := range knownSources {
		known[s] = true
	}
	return &Analyzer{chatter: chatter, known: known}
}

type analyzerResponse struct {
	RequiredData []models.SourceRequest `json:"requiredData"`
}

// Analyze returns the data sources needed to answer the question. An empty
// slice means the question can be answered directly without student data.
// Analysis failures fall back to the default fan-out; this never hard-errors.
func (a *Analyzer) Analyze(ctx context.Context, question string) []models.SourceRequest {
	content, err := a.chatter.Complete(ctx, llm.ChatRequest{
		Model:       a.chatter.AnalyzerModel(),
		System:      analyzerSystemPrompt,
		User:        question,
		Temperature: 0.0,
		JSONMode:    true,
	})
	if err != nil {
		log.Printf("⚠️ [ANALYZER] LLM call failed, using default sources: %v", err)
		if m := GetMetrics(); m != nil {
			m.RecordLLMError("analyze")
		}
		return DefaultSources
	}

	sources, err := a.parse(content)
	if err != nil {
		log.Printf("⚠️ [ANALYZER] Failed to parse response, using default sources: %v", err)
		if m := GetMetrics(); m != nil {
			m.RecordLLMError("analyze")
		}
		return DefaultSources
	}

	return sources
}

func (a *Analyzer) parse(content string) ([]models.SourceRequest, error) {
	// Some models wrap JSON in markdown fences despite JSON mode
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var parsed analyzerResponse
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("invalid analyzer JSON: %w", err)
	}

	// Drop hallucinated source names instead of failing the whole analysis
	sources := make([]models.SourceRequest, 0, len(parsed.RequiredData))
	for _, req := range parsed.RequiredData {
		if !a.known[req.Source] {
			log.Printf("⚠️ [ANALYZER] Dropping unknown source %q", req.Source)
			continue
		}
		sources = append(sources, req)
	}
	return sources, nil
}
