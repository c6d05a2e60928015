package generator

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/logx"
)

// XPostSystemPrompt is the system message for X post summaries.
const XPostSystemPrompt = "あなたはSNSマーケティングの専門家です。Markdown記号は使用せず、絵文字を適度に使用して親しみやすい投稿文を作成してください。"

// xPostExcerptRunes caps how much of the article body is quoted in the prompt.
const xPostExcerptRunes = 1000

const xPostRules = `要件:
- 280文字以内
- 記事への興味を引く内容
- 適切なハッシュタグを3-5個追加
- 記事のリンクを想定した「続きはnoteで」などの誘導文を含める
- 絵文字を適度に使用して親しみやすくする
- Markdown記号は使用しない

出力形式:
投稿文: [本文]
ハッシュタグ: [ハッシュタグ1] [ハッシュタグ2] ...`

var (
	xPostTextPrefixes    = []string{"投稿文:", "投稿文："}
	xPostHashtagPrefixes = []string{"ハッシュタグ:", "ハッシュタグ："}
	hashtagRE            = regexp.MustCompile(`#[\p{L}\p{M}\p{N}_]+`)
)

// XPost is a short promotional post for X summarising an article.
type XPost struct {
	Text     string
	Hashtags []string
	// Full is Text followed by the hashtags, ready to paste.
	Full string
}

// BuildXPostPrompt asks for an X post about the given article.
func BuildXPostPrompt(title, body string) string {
	excerpt := body
	if r := []rune(body); len(r) > xPostExcerptRunes {
		excerpt = string(r[:xPostExcerptRunes])
	}
	var b strings.Builder
	b.WriteString("以下の記事を要約して、X（旧Twitter）向けの投稿文を作成してください。\n\n")
	b.WriteString("タイトル: " + title + "\n")
	b.WriteString("本文: " + excerpt + "...\n\n")
	b.WriteString(xPostRules)
	return b.String()
}

// ParseXPost reads the 投稿文 and ハッシュタグ lines of a reply. Without a
// 投稿文 line the whole reply is the post text.
func ParseXPost(content string) XPost {
	var (
		post     XPost
		text     []string
		inText   bool
		sawLabel bool
	)
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := cutAnyPrefix(trimmed, xPostTextPrefixes); ok {
			sawLabel, inText = true, true
			text = append(text[:0], strings.TrimSpace(rest))
			continue
		}
		if rest, ok := cutAnyPrefix(trimmed, xPostHashtagPrefixes); ok {
			inText = false
			post.Hashtags = append(post.Hashtags, hashtagRE.FindAllString(rest, -1)...)
			continue
		}
		if inText {
			text = append(text, line)
		}
	}

	if sawLabel {
		post.Text = strings.TrimSpace(strings.Join(text, "\n"))
	} else {
		post.Text = strings.TrimSpace(content)
	}
	post.Full = post.Text
	if len(post.Hashtags) > 0 {
		post.Full += "\n\n" + strings.Join(post.Hashtags, " ")
	}
	return post
}

func cutAnyPrefix(s string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(s, p); ok {
			return rest, true
		}
	}
	return "", false
}

// XPost summarises an article as an X post using the named provider, or the
// default one when provider is blank.
func (r *Registry) XPost(ctx context.Context, provider, title, body string) (XPost, error) {
	if strings.TrimSpace(title) == "" && strings.TrimSpace(body) == "" {
		return XPost{}, failure.Newf(failure.KindGeneration, "article is empty")
	}
	p, err := r.lookup(provider)
	if err != nil {
		return XPost{}, err
	}

	prompt := BuildXPostPrompt(title, body)
	start := time.Now()
	text, err := p.Complete(ctx, XPostSystemPrompt, prompt)
	r.record(p, prompt, text, err)
	if err != nil {
		return XPost{}, failure.Wrapf(err, failure.KindGeneration, "%s x post", p.Name())
	}
	if strings.TrimSpace(text) == "" {
		return XPost{}, failure.Newf(failure.KindGeneration, "%s returned an empty response", p.Name())
	}

	post := ParseXPost(text)
	r.log.Info("x post generated",
		logx.String("provider", p.Name()),
		logx.Int("hashtags", len(post.Hashtags)),
		logx.Duration("elapsed", time.Since(start)))
	return post, nil
}
