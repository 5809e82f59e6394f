package llm

// NewZAI creates a backend for the Z.AI coding-plan endpoint. The
// endpoint speaks the OpenAI dialect with two quirks: it rejects the
// "system" role (the system prompt is restated under "assistant"), and
// it rejects temperatures with more than one decimal place.
func NewZAI(apiKey, model, baseURL string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.z.ai/api/coding/paas/v4"
	}
	b := NewOpenAI(apiKey, model, baseURL)
	b.Label = "zai"
	b.KeyEnvVar = "ZAI_API_KEY"
	b.SystemRole = RoleAssistant
	b.RoundTemperature = true
	return b
}
