// Package prompts renders the instruction text sent to a provider when the
// editor talks to a vendor directly instead of through the backend.
package prompts

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Fields are the values a prompt may reference. Empty fields render as "无".
type Fields struct {
	Title         string
	Style         string
	WorldBible    string
	PrecedingText string
	FollowingText string
	Content       string
}

var templates = map[string]string{
	"continue": `你是一个专业的小说家。请根据现有内容和世界观设定，续写接下来的剧情。

请根据上下文续写小说内容（约200-500字）。

小说标题：{{or .Title "无"}}
风格：{{or .Style "无"}}

世界观设定 (World Bible):
{{or .WorldBible "无"}}

前文内容 (Preceding Context):
{{or .PrecedingText "无"}}

后文内容 (Following Context):
{{or .FollowingText "无"}}

要求：
1. 保持文风一致，流畅自然。
2. 如果有后文，请平滑过渡。
3. 不要重复前文已有的内容。
4. 直接输出续写的内容，不要包含任何解释性文字。

续写内容：`,

	"generate": `你是一个高产且文笔优美的小说家。你的写作风格是：{{or .Style "无"}}。

请为小说《{{or .Title "无"}}》撰写新的章节内容。

世界观设定 (World Bible):
{{or .WorldBible "无"}}

前情提要（Context）：
{{or .PrecedingText "无"}}

要求：
1. 描写生动，人物对话自然。
2. 推动剧情发展，与前情保持连贯。
3. 严格遵守世界观设定，不要出现OOC（角色性格崩坏）或逻辑矛盾。
4. 直接输出正文，不要包含任何解释性文字。

开始写作：`,

	"improve": `你是一个卓越的小说编辑，擅长润色文字，提升文笔，使表达更生动、感人、专业。

请对以下小说片段进行润色和优化。

小说标题：{{or .Title "无"}}
风格：{{or .Style "无"}}

待润色片段：
{{.Content}}

要求：
1. 保持原意不变，提升文字的优美度和表现力。
2. 增强感官描写和人物心理活动。
3. 修正冗余、累赘或生硬的词句。
4. 保持文风与小说整体风格一致。
5. 直接输出润色后的内容，不要包含任何解释性文字。

润色结果：`,

	"expand": `你是一个富有想象力的小说家，擅长扩充细节，使故事情节更加丰满。

请对以下小说片段进行细节扩充和丰富。

小说标题：{{or .Title "无"}}
风格：{{or .Style "无"}}

待扩充片段：
{{.Content}}

要求：
1. 在保持原有情节核心的基础上，增加环境描写、动作细节、神态描写或心理活动。
2. 使场景更具画面感，让读者更有代入感。
3. 不要引入破坏原有逻辑的新情节。
4. 扩充后的内容应自然融合，不要显得突兀。
5. 直接输出扩充后的内容，不要包含任何解释性文字。

扩充结果：`,
}

var parsed = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(templates))
	for name, src := range templates {
		out[name] = template.Must(template.New(name).Parse(src))
	}
	return out
}()

// Render builds the prompt for mode (continue, generate, improve, expand).
func Render(mode string, f Fields) (string, error) {
	tpl, ok := parsed[mode]
	if !ok {
		return "", fmt.Errorf("no prompt for mode %q", mode)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, f); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", mode, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
