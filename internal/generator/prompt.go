package generator

import (
	"fmt"
	"strings"
)

// SystemPrompt is sent as the system message by providers that support one.
const SystemPrompt = "あなたはnote向けの記事を書くプロのライターです。Markdown記号は一切使用せず、自然な文章で書いてください。適度に絵文字を使用して親しみやすい文章にしてください。"

const (
	DefaultTone   = "明るい"
	DefaultLength = "2000-3000"
)

var toneDescriptions = map[string]string{
	"明るい":  "明るく前向きな",
	"丁寧":   "丁寧で敬語を使った",
	"フランク": "フランクで親しみやすい",
}

var lengthDescriptions = map[string]string{
	"1000-2000": "1000文字から2000文字程度",
	"2000-3000": "2000文字から3000文字程度",
	"3000-5000": "3000文字から5000文字程度",
}

const styleRules = `重要な注意事項：
- Markdown記号（#、##、###、**など）は一切使用しないでください
- 見出しも通常の文章として自然に書いてください
- 絵文字を適切に使用して、読みやすく親しみやすい文章にしてください
- タイトルには絵文字を含めないでください
- 本文には適度に絵文字を使用してください（段落の区切りや強調など）`

// BuildPrompt renders the generation prompt for req. A non-empty CustomPrompt
// replaces the topic/tone/length block.
func BuildPrompt(req Request) string {
	if strings.TrimSpace(req.CustomPrompt) != "" {
		return buildCustomPrompt(req.CustomPrompt)
	}

	tone := req.Tone
	if tone == "" {
		tone = DefaultTone
	}
	length := req.Length
	if length == "" {
		length = DefaultLength
	}
	if d, ok := toneDescriptions[tone]; ok {
		tone = d
	}
	if d, ok := lengthDescriptions[length]; ok {
		length = d
	}

	var sb strings.Builder
	sb.WriteString("以下の条件でnote向けの記事を作成してください。\n\n")
	fmt.Fprintf(&sb, "テーマ: %s\n", req.Topic)
	fmt.Fprintf(&sb, "文章のトーン: %s\n", tone)
	fmt.Fprintf(&sb, "文字数: %s\n", length)
	sb.WriteString(req.OtherConditions)
	sb.WriteString("\n\n")
	sb.WriteString(styleRules)
	sb.WriteString("\n\n記事は以下の形式で出力してください：\n")
	sb.WriteString("1. タイトル（1行、Markdown記号なし、絵文字なし）\n")
	sb.WriteString("2. 本文（指定された文字数で、読みやすく構成された記事、Markdown記号なし、適度に絵文字を使用）\n\n")
	sb.WriteString("タイトルと本文を明確に分けて出力してください。")
	return sb.String()
}

func buildCustomPrompt(custom string) string {
	var sb strings.Builder
	sb.WriteString("以下のプロンプトに基づいてnote向けの記事を作成してください。\n\n")
	sb.WriteString(custom)
	sb.WriteString("\n\n")
	sb.WriteString(styleRules)
	sb.WriteString("\n\n記事は以下の形式で出力してください：\n")
	sb.WriteString("1. タイトル（1行、Markdown記号なし、絵文字なし）\n")
	sb.WriteString("2. 本文（読みやすく構成された記事、Markdown記号なし、適度に絵文字を使用）\n\n")
	sb.WriteString("タイトルと本文を明確に分けて出力してください。")
	return sb.String()
}
