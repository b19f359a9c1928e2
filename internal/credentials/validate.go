package credentials

import (
	"regexp"
	"strings"

	"inkwell/internal/providers"
)

var keyPatterns = map[providers.ServiceType]*regexp.Regexp{
	providers.OpenAI:    regexp.MustCompile(`^sk-[a-zA-Z0-9]{48}$`),
	providers.Anthropic: regexp.MustCompile(`^sk-ant-api[a-zA-Z0-9_-]+$`),
	providers.Gemini:    regexp.MustCompile(`^AIza[a-zA-Z0-9_-]+$`),
	providers.Doubao:    regexp.MustCompile(`^lk-[a-zA-Z0-9_-]+$`),
	providers.DeepSeek:  regexp.MustCompile(`^sk-[a-zA-Z0-9_-]+$`),
	providers.Qwen:      regexp.MustCompile(`^sk-[a-zA-Z0-9_-]+$`),
}

// ValidateAPIKey is an advisory format check; it never contacts the vendor.
func ValidateAPIKey(st providers.ServiceType, key string) bool {
	if st == providers.Custom {
		return strings.TrimSpace(key) != ""
	}
	re, ok := keyPatterns[st]
	if !ok {
		return false
	}
	return re.MatchString(key)
}

// MaskKey keeps the first and last four characters.
func MaskKey(key string) string {
	r := []rune(key)
	if len(r) <= 8 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:4]) + "…" + string(r[len(r)-4:])
}
