package providers

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPSenderSend(t *testing.T) {
	s := NewSMTPSender("mail.example.com", 587, "user", "pw", "bot@example.com")
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg, gotAuth = addr, to, string(msg), a
		return nil
	}

	require.NoError(t, s.Send("me@example.com", "投稿失敗", "<p>html</p>", "plain"))
	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.Equal(t, []string{"me@example.com"}, gotTo)
	assert.NotNil(t, gotAuth)
	assert.Contains(t, gotMsg, "Subject: =?utf-8?b?")
	assert.Contains(t, gotMsg, "Content-Type: text/plain; charset=\"utf-8\"\r\n\r\nplain\r\n")
	assert.Contains(t, gotMsg, "<p>html</p>")
	assert.True(t, strings.HasSuffix(gotMsg, "--"+boundary+"--\r\n"))
}

func TestSMTPSenderNoAuthAndError(t *testing.T) {
	s := NewSMTPSender("localhost", 25, "", "", "bot@example.com")
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		assert.Nil(t, a)
		return errors.New("connection refused")
	}
	err := s.Send("me@example.com", "s", "h", "p")
	assert.ErrorContains(t, err, "failed to send email")
}

func TestBuildMessageDate(t *testing.T) {
	at := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)
	msg := string(buildMessage("a@x", "b@x", "ascii", "h", "p", at))
	assert.Contains(t, msg, "Date: Wed, 08 Jan 2025 09:00:00 +0000\r\n")
	assert.Contains(t, msg, "Subject: ascii\r\n")
}
