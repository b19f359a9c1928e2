package editor

import (
	"errors"
	"fmt"
)

var ErrUnknownFormat = errors.New("unknown format")

type formatRule struct {
	placeholder string
	wrap        func(string) string
}

func surround(prefix, suffix string) func(string) string {
	return func(s string) string { return prefix + s + suffix }
}

var formats = map[string]formatRule{
	"bold":        {"粗体文本", surround("**", "**")},
	"italic":      {"斜体文本", surround("*", "*")},
	"heading1":    {"一级标题", surround("# ", "")},
	"heading2":    {"二级标题", surround("## ", "")},
	"heading3":    {"三级标题", surround("### ", "")},
	"list":        {"列表项", surround("- ", "")},
	"orderedList": {"有序列表项", surround("1. ", "")},
	"quote":       {"引用内容", surround("> ", "")},
	"code":        {"代码", surround("`", "`")},
	"codeBlock":   {"代码块内容", surround("```\n", "\n```")},
	"link":        {"链接文字", surround("[", "](url)")},
	"table": {"内容", func(s string) string {
		return "| 列1 | 列2 |\n| --- | --- |\n| " + s + " | 内容 |\n"
	}},
}

var formatAliases = map[string]string{
	"h1":     "heading1",
	"h2":     "heading2",
	"h3":     "heading3",
	"bullet": "list",
	"number": "orderedList",
}

// applyFormat returns the markup for kind around selected, or around the
// kind's placeholder when nothing is selected.
func applyFormat(kind, selected string) (string, error) {
	if alias, ok := formatAliases[kind]; ok {
		kind = alias
	}
	rule, ok := formats[kind]
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownFormat, kind)
	}
	if selected == "" {
		selected = rule.placeholder
	}
	return rule.wrap(selected), nil
}
