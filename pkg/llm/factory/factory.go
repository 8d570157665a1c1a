package factory

import (
	"fmt"

	"random-chat-be/internal/config"
	"random-chat-be/pkg/llm"
	"random-chat-be/pkg/llm/gemini"
	"random-chat-be/pkg/llm/huggingface"
	"random-chat-be/pkg/llm/ollama"
)

func NewLLMProvider(ai config.AIConfig, keys config.APIKeys) (llm.LLMProvider, error) {
	switch ai.LLMProvider {
	case "gemini":
		if keys.GoogleGemini == "" {
			return nil, fmt.Errorf("gemini provider requires GOOGLE_GEMINI_API_KEY")
		}
		return gemini.NewGeminiProvider(keys.GoogleGemini, ai.LLMModel), nil
	case "ollama":
		return ollama.NewOllamaProvider(ai.OllamaBaseURL, ai.LLMModel), nil
	case "huggingface":
		return huggingface.NewHuggingFaceProvider(keys.HuggingFace, ai.HuggingFaceBaseURL, ai.LLMModel), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", ai.LLMProvider)
	}
}
