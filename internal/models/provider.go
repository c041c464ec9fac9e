package models

// Provider is one OpenAI-compatible LLM endpoint from providers.json.
type Provider struct {
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
}

// ProvidersConfig is the on-disk providers.json shape. AnalyzerModel is the
// cheap/fast model used for intent classification; SynthesizerModel is the
// more capable model used for final answers.
type ProvidersConfig struct {
	Provider         Provider `json:"provider"`
	AnalyzerModel    string   `json:"analyzerModel"`
	SynthesizerModel string   `json:"synthesizerModel"`
}
