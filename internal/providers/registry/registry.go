package registry

import (
	"fmt"

	"inkwell/internal/providers"
	"inkwell/internal/providers/anthropic_messages"
	"inkwell/internal/providers/custom_http"
	"inkwell/internal/providers/dashscope"
	"inkwell/internal/providers/gemini"
	"inkwell/internal/providers/openai_compat"
)

// Build returns the adapter for cfg.ServiceType. cfg is validated first.
func Build(cfg providers.Config, deps providers.Deps) (providers.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.ServiceType {
	case providers.OpenAI, providers.Doubao, providers.DeepSeek:
		return openai_compat.New(cfg, deps), nil
	case providers.Anthropic:
		return anthropic_messages.New(cfg, deps), nil
	case providers.Gemini:
		return gemini.New(cfg, deps), nil
	case providers.Qwen:
		return dashscope.New(cfg, deps), nil
	case providers.Custom:
		return custom_http.New(cfg, deps)
	default:
		return nil, fmt.Errorf("%w: unsupported service type %q", providers.ErrInvalidConfig, cfg.ServiceType)
	}
}

type Service struct {
	Type        providers.ServiceType `json:"value"`
	Label       string                `json:"label"`
	Description string                `json:"description"`
}

func SupportedServices() []Service {
	return []Service{
		{Type: providers.OpenAI, Label: "OpenAI", Description: "支持GPT-3.5, GPT-4等模型"},
		{Type: providers.Anthropic, Label: "Anthropic", Description: "支持Claude 3等模型"},
		{Type: providers.Gemini, Label: "Google Gemini", Description: "支持Gemini Pro等模型"},
		{Type: providers.Doubao, Label: "豆包", Description: "支持豆包大模型等"},
		{Type: providers.DeepSeek, Label: "DeepSeek", Description: "支持DeepSeek-R1等模型"},
		{Type: providers.Qwen, Label: "通义千问", Description: "支持Qwen 2等模型"},
		{Type: providers.Custom, Label: "自定义服务", Description: "连接到自定义AI服务"},
	}
}
