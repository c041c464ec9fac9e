package services

import (
	"context"
	"errors"
	"testing"

	"studentquery/internal/llm"
)

// cannedChatter returns a fixed response (or error) for every completion
type cannedChatter struct {
	response string
	err      error
	lastReq  llm.ChatRequest
}

func (c *cannedChatter) Complete(_ context.Context, req llm.ChatRequest) (string, error) {
	c.lastReq = req
	if c.err != nil {
		return "", c.err
	}
	return c.response, nil
}

func (c *cannedChatter) AnalyzerModel() string    { return "test-analyzer" }
func (c *cannedChatter) SynthesizerModel() string { return "test-synthesizer" }

var knownSources = []string{
	"GetStudentData", "GetStudentCourses", "GetStudentCurrentDegree",
	"GetProgramDetails", "GetEnrollmentStatus",
}

func TestAnalyze_ParsesRequiredSources(t *testing.T) {
	chatter := &cannedChatter{response: `{"requiredData":[{"source":"GetStudentCourses","params":{}},{"source":"GetStudentCurrentDegree"}]}`}
	analyzer := NewAnalyzer(chatter, knownSources)

	sources := analyzer.Analyze(context.Background(), "What is my GPA and what courses have I taken?")
	if len(sources) != 2 {
		t.Fatalf("Expected 2 sources, got %d", len(sources))
	}
	if sources[0].Source != "GetStudentCourses" || sources[1].Source != "GetStudentCurrentDegree" {
		t.Errorf("Unexpected sources: %+v", sources)
	}
	if !chatter.lastReq.JSONMode {
		t.Error("Analyzer should request JSON mode")
	}
}

func TestAnalyze_EmptyListMeansDirectAnswer(t *testing.T) {
	chatter := &cannedChatter{response: `{"requiredData":[]}`}
	analyzer := NewAnalyzer(chatter, knownSources)

	sources := analyzer.Analyze(context.Background(), "Hello!")
	if len(sources) != 0 {
		t.Errorf("Expected no sources for a greeting, got %+v", sources)
	}
}

func TestAnalyze_FallsBackOnLLMError(t *testing.T) {
	chatter := &cannedChatter{err: errors.New("provider down")}
	analyzer := NewAnalyzer(chatter, knownSources)

	sources := analyzer.Analyze(context.Background(), "What are my grades?")
	if len(sources) != len(DefaultSources) {
		t.Fatalf("Expected default fallback, got %+v", sources)
	}
	for i, src := range DefaultSources {
		if sources[i].Source != src.Source {
			t.Errorf("Fallback source %d: expected %s, got %s", i, src.Source, sources[i].Source)
		}
	}
}

func TestAnalyze_FallsBackOnMalformedJSON(t *testing.T) {
	chatter := &cannedChatter{response: `I think you need GetStudentData`}
	analyzer := NewAnalyzer(chatter, knownSources)

	sources := analyzer.Analyze(context.Background(), "What are my grades?")
	if len(sources) != len(DefaultSources) {
		t.Errorf("Expected default fallback on parse failure, got %+v", sources)
	}
}

func TestAnalyze_DropsUnknownSources(t *testing.T) {
	chatter := &cannedChatter{response: `{"requiredData":[{"source":"GetStudentData"},{"source":"DropAllTables"}]}`}
	analyzer := NewAnalyzer(chatter, knownSources)

	sources := analyzer.Analyze(context.Background(), "Who am I?")
	if len(sources) != 1 || sources[0].Source != "GetStudentData" {
		t.Errorf("Expected hallucinated source to be dropped, got %+v", sources)
	}
}

func TestAnalyze_StripsMarkdownFences(t *testing.T) {
	chatter := &cannedChatter{response: "```json\n{\"requiredData\":[{\"source\":\"GetEnrollmentStatus\"}]}\n```"}
	analyzer := NewAnalyzer(chatter, knownSources)

	sources := analyzer.Analyze(context.Background(), "Am I enrolled this term?")
	if len(sources) != 1 || sources[0].Source != "GetEnrollmentStatus" {
		t.Errorf("Expected fenced JSON to parse, got %+v", sources)
	}
}
