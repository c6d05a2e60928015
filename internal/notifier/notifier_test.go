package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/notedraft/internal/config"
	"github.com/ibeckermayer/notedraft/internal/logx"
	"github.com/ibeckermayer/notedraft/internal/types"
)

type sent struct{ to, subject, html, plain string }

type recSender struct{ got []sent }

func (r *recSender) Send(to, subject, htmlBody, plainBody string) error {
	r.got = append(r.got, sent{to, subject, htmlBody, plainBody})
	return nil
}

func failedOutcome() types.PostOutcome {
	return types.PostOutcome{
		ScheduleID:   "s1",
		AccountID:    "acc",
		FiredAt:      time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC),
		ErrorKind:    "SubmitError",
		ErrorMessage: "save <button> missing",
		ArticleID:    7,
	}
}

func TestNotifyOnlyFailures(t *testing.T) {
	rs := &recSender{}
	tokyo := time.FixedZone("JST", 9*3600)
	n := New(rs, "me@example.com", tokyo, logx.Nop())

	require.NoError(t, n.NotifyOutcome(context.Background(), types.PostOutcome{Success: true}))
	assert.Empty(t, rs.got)

	require.NoError(t, n.NotifyOutcome(context.Background(), failedOutcome()))
	require.Len(t, rs.got, 1)
	m := rs.got[0]
	assert.Equal(t, "me@example.com", m.to)
	assert.Equal(t, "note 下書き投稿失敗: acc (SubmitError)", m.subject)
	assert.Contains(t, m.plain, "2025-01-08 09:00")
	assert.Contains(t, m.plain, "記事: 7")
	assert.Contains(t, m.html, "save &lt;button&gt; missing")
	assert.Contains(t, m.html, hints["SubmitError"])

	n.notifyOnSuccess = true
	require.NoError(t, n.NotifyOutcome(context.Background(), types.PostOutcome{Success: true, ResultURL: "https://note.com/x"}))
	require.Len(t, rs.got, 2)
	assert.Contains(t, rs.got[1].html, `href="https://note.com/x"`)
}

func TestNewFromConfig(t *testing.T) {
	n, err := NewFromConfig(config.EmailConfig{}, nil, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, n)

	_, err = NewFromConfig(config.EmailConfig{Provider: "sendgrid", SMTPHost: "h", ToAddr: "t"}, nil, logx.Nop())
	assert.Error(t, err)

	n, err = NewFromConfig(config.EmailConfig{Provider: "smtp", SMTPHost: "h", SMTPPort: 25, ToAddr: "t", NotifySuccess: true}, nil, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, n.notifyOnSuccess)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "あい", truncate("あい", 5))
	assert.Equal(t, "あい...", truncate("あいうえおか", 5))
}
