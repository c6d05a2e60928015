package notifier

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/ibeckermayer/notedraft/internal/types"
)

// Message is a rendered email.
type Message struct {
	Subject   string
	HTMLBody  string
	PlainBody string
}

// MessageData is the template data for an outcome email.
type MessageData struct {
	Title        string
	AccountID    string
	ScheduleID   string
	FiredAt      string
	Success      bool
	ErrorKind    string
	ErrorMessage string
	ResultURL    string
	ArticleID    int64
	Hint         string
}

var outcomeTemplate = template.Must(template.New("outcome").Parse(defaultTemplate))

// hints map error kinds to the first thing worth checking.
var hints = map[string]string{
	"LoginError":        "ログイン情報を確認してください。",
	"NavigationTimeout": "note.com が応答していない可能性があります。",
	"ElementNotFound":   "画面の構成が変わった可能性があります。セレクタ設定を確認してください。",
	"SubmitError":       "下書き保存に失敗しました。スクリーンショットを確認してください。",
	"GenerationError":   "記事生成 API のキーと利用枠を確認してください。",
	"ArticleNotFound":   "スケジュールの記事が削除されています。",
	"PoolTimeout":       "同時実行が混み合っています。スケジュールの時刻をずらしてください。",
}

// BuildOutcomeMessage renders an email describing o in loc.
func BuildOutcomeMessage(o types.PostOutcome, loc *time.Location) (Message, error) {
	if loc == nil {
		loc = time.Local
	}
	status := "失敗"
	if o.Success {
		status = "成功"
	}
	data := MessageData{
		Title:        fmt.Sprintf("note 下書き投稿%s: %s", status, o.AccountID),
		AccountID:    o.AccountID,
		ScheduleID:   o.ScheduleID,
		FiredAt:      o.FiredAt.In(loc).Format("2006-01-02 15:04"),
		Success:      o.Success,
		ErrorKind:    o.ErrorKind,
		ErrorMessage: truncate(o.ErrorMessage, 1000),
		ResultURL:    o.ResultURL,
		ArticleID:    o.ArticleID,
		Hint:         hints[o.ErrorKind],
	}

	var htmlBuf bytes.Buffer
	if err := outcomeTemplate.Execute(&htmlBuf, data); err != nil {
		return Message{}, fmt.Errorf("failed to render template: %w", err)
	}

	subject := data.Title
	if o.ErrorKind != "" {
		subject += " (" + o.ErrorKind + ")"
	}
	return Message{
		Subject:   subject,
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
	}, nil
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes-3]) + "..."
}

func buildPlainText(d MessageData) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n%s\n\n", d.Title, d.FiredAt)
	fmt.Fprintf(&sb, "アカウント: %s\n", d.AccountID)
	fmt.Fprintf(&sb, "スケジュール: %s\n", d.ScheduleID)
	if d.ArticleID != 0 {
		fmt.Fprintf(&sb, "記事: %d\n", d.ArticleID)
	}
	if d.ResultURL != "" {
		fmt.Fprintf(&sb, "下書き: %s\n", d.ResultURL)
	}
	if d.ErrorKind != "" {
		fmt.Fprintf(&sb, "\nエラー: %s\n%s\n", d.ErrorKind, d.ErrorMessage)
	}
	if d.Hint != "" {
		fmt.Fprintf(&sb, "\n%s\n", d.Hint)
	}
	return sb.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Hiragino Sans', sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { font-size: 20px; margin-bottom: 5px; }
        .ok { color: #2cb696; }
        .ng { color: #d9534f; }
        .date { color: #666; margin-bottom: 20px; }
        th { text-align: left; color: #666; padding-right: 12px; }
        pre { background: #fafafa; padding: 10px; white-space: pre-wrap; }
        .hint { margin-top: 15px; color: #333; }
    </style>
</head>
<body>
    <div class="container">
        <h1 class="{{if .Success}}ok{{else}}ng{{end}}">{{.Title}}</h1>
        <div class="date">{{.FiredAt}}</div>
        <table>
            <tr><th>アカウント</th><td>{{.AccountID}}</td></tr>
            <tr><th>スケジュール</th><td>{{.ScheduleID}}</td></tr>
            {{if .ArticleID}}<tr><th>記事</th><td>{{.ArticleID}}</td></tr>{{end}}
            {{if .ResultURL}}<tr><th>下書き</th><td><a href="{{.ResultURL}}">{{.ResultURL}}</a></td></tr>{{end}}
        </table>
        {{if .ErrorKind}}
        <h2>{{.ErrorKind}}</h2>
        <pre>{{.ErrorMessage}}</pre>
        {{end}}
        {{if .Hint}}<div class="hint">{{.Hint}}</div>{{end}}
    </div>
</body>
</html>
`
