package llm

// NewOpenRouter creates a backend for openrouter.ai. OpenRouter speaks
// the OpenAI dialect and additionally wants attribution headers.
func NewOpenRouter(apiKey, model, baseURL string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	b := NewOpenAI(apiKey, model, baseURL)
	b.Label = "openrouter"
	b.KeyEnvVar = "OPENROUTER_API_KEY"
	b.Headers = map[string]string{
		"HTTP-Referer": "https://github.com/CriticalRange/arula-go",
		"X-Title":      "ARULA",
	}
	return b
}
