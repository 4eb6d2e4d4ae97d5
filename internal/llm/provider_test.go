package llm

import "testing"

func TestParseModelString(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("OPENAI_API_KEY", "")

	tests := []struct {
		model        string
		wantProvider Provider
		wantName     string
	}{
		{"ollama/llama3.2", ProviderOllama, "llama3.2"},
		{"openai/gpt-4o", ProviderOpenAI, "gpt-4o"},
		{"anthropic/claude-sonnet-4-20250514", ProviderAnthropic, "claude-sonnet-4-20250514"},
		{"claude-sonnet-4-20250514", ProviderAnthropic, "claude-sonnet-4-20250514"},
		{"gpt-4o", ProviderOpenAI, "gpt-4o"},
		{"o3-mini", ProviderOpenAI, "o3-mini"},
		{"llama3.2", ProviderOllama, "llama3.2"},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			provider, name := ParseModelString(tc.model)
			if provider != tc.wantProvider || name != tc.wantName {
				t.Errorf("ParseModelString(%q) = (%s, %q), want (%s, %q)",
					tc.model, provider, name, tc.wantProvider, tc.wantName)
			}
		})
	}
}

func TestParseModelStringEnvFallback(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	provider, _ := ParseModelString("mistral-large")
	if provider != ProviderOpenAI {
		t.Errorf("provider = %s, want openai when only OPENAI_API_KEY is set", provider)
	}
}
