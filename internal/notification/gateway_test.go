package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-status-backend/config"
	"parking-status-backend/internal/logging"
)

func TestNewGateway(t *testing.T) {
	testCases := []struct {
		name      string
		cfg       config.MailConfig
		expected  any
		expectErr bool
	}{
		{name: "log default", cfg: config.MailConfig{}, expected: &LogGateway{}},
		{name: "smtp", cfg: config.MailConfig{Provider: "smtp", SMTP: config.SMTPConfig{Host: "mail", Port: 25}}, expected: &SMTPGateway{}},
		{name: "smtp without host", cfg: config.MailConfig{Provider: "smtp"}, expectErr: true},
		{name: "resend", cfg: config.MailConfig{Provider: "resend", Resend: config.ResendConfig{APIKey: "k"}}, expected: &ResendGateway{}},
		{name: "resend without key", cfg: config.MailConfig{Provider: "resend"}, expectErr: true},
		{name: "unknown", cfg: config.MailConfig{Provider: "pigeon"}, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gw, err := NewGateway(tc.cfg, logging.Nop())
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tc.expected, gw)
		})
	}
}

func TestLogGateway_RequiresRecipient(t *testing.T) {
	gw := NewLogGateway(logging.Nop())
	assert.ErrorIs(t, gw.Send(context.Background(), Message{Subject: "x"}), ErrMissingRecipient)
	assert.NoError(t, gw.Send(context.Background(), Message{To: "a@x.com", Subject: "x"}))
}

func TestResendGateway_Send(t *testing.T) {
	var got resendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	gw := NewResendGateway(config.ResendConfig{APIKey: "secret", URL: srv.URL, TimeoutSeconds: 5}, "Parking <p@x.com>")
	err := gw.Send(context.Background(), Message{To: "a@x.com", Subject: "Hi", Text: "t", HTML: "<p>h</p>"})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got.To)
	assert.Equal(t, "Parking <p@x.com>", got.From)
	assert.Equal(t, "<p>h</p>", got.HTML)
}

func TestResendGateway_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "domain not verified", http.StatusForbidden)
	}))
	defer srv.Close()

	gw := NewResendGateway(config.ResendConfig{APIKey: "k", URL: srv.URL, TimeoutSeconds: 5}, "p@x.com")
	err := gw.Send(context.Background(), Message{To: "a@x.com", Subject: "Hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "domain not verified")
}

func TestSMTPGateway_BuildsMultipart(t *testing.T) {
	gw := NewSMTPGateway(config.SMTPConfig{Host: "mail.local", Port: 2525}, "Parking <no-reply@parking.local>")

	var (
		addr, from string
		to         []string
		body       []byte
	)
	gw.send = func(a string, _ smtp.Auth, f string, t []string, msg []byte) error {
		addr, from, to, body = a, f, t, msg
		return nil
	}

	err := gw.Send(context.Background(), Message{To: "a@x.com", Subject: "Código", Text: "plain", HTML: "<b>rich</b>"})
	require.NoError(t, err)
	assert.Equal(t, "mail.local:2525", addr)
	assert.Equal(t, "no-reply@parking.local", from)
	assert.Equal(t, []string{"a@x.com"}, to)

	s := string(body)
	assert.Contains(t, s, "multipart/alternative")
	assert.Contains(t, s, "text/plain; charset=UTF-8")
	assert.Contains(t, s, "<b>rich</b>")
	assert.Contains(t, s, "=?utf-8?q?")
}

type flakyGateway struct {
	failures int32
	calls    int32
}

func (f *flakyGateway) Send(context.Context, Message) error {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return errors.New("temporary")
	}
	return nil
}

func TestRetryingGateway(t *testing.T) {
	noWait := func(context.Context, time.Duration) error { return nil }
	msg := Message{To: "a@x.com", Subject: "s"}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		next := &flakyGateway{failures: 2}
		gw := WithRetry(next, RetryPolicy{MaxRetries: 3}, logging.Nop())
		gw.wait = noWait
		assert.NoError(t, gw.Send(context.Background(), msg))
		assert.Equal(t, int32(3), next.calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		next := &flakyGateway{failures: 10}
		gw := WithRetry(next, RetryPolicy{MaxRetries: 2}, logging.Nop())
		gw.wait = noWait
		assert.Error(t, gw.Send(context.Background(), msg))
		assert.Equal(t, int32(3), next.calls)
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		next := &flakyGateway{failures: 10}
		gw := WithRetry(next, RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour}, logging.Nop())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, gw.Send(ctx, msg))
		assert.Equal(t, int32(1), next.calls)
	})
}

func TestRetryPolicy_NextDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond, BackoffFactor: 2}
	assert.Equal(t, 100*time.Millisecond, p.NextDelay(1))
	assert.Equal(t, 200*time.Millisecond, p.NextDelay(2))
	assert.Equal(t, 350*time.Millisecond, p.NextDelay(3))
}

func TestMessages_Render(t *testing.T) {
	code, err := ConfirmationCode{To: "a@x.com", Name: "Ana", Code: "ABC123", ActionURL: "https://p.example/confirm"}.Render()
	require.NoError(t, err)
	assert.Equal(t, KindConfirmationCode, code.Kind)
	assert.Equal(t, "Your confirmation code", code.Subject)
	assert.Contains(t, code.Text, "Ana, your confirmation code is: ABC123")
	assert.Contains(t, code.Text, "expires in 10 minutes")
	assert.Contains(t, code.HTML, `href="https://p.example/confirm"`)

	avail, err := SlotAvailable{To: "b@x.com", SlotID: 4, SlotName: "<North 4>"}.Render()
	require.NoError(t, err)
	assert.Equal(t, "Parking slot available", avail.Subject)
	assert.Contains(t, avail.Text, "<North 4> (ID: 4) is now available.")
	assert.Contains(t, avail.HTML, "&lt;North 4&gt;", "html variant is escaped")
	assert.False(t, strings.Contains(avail.Text, "Check it here"))
}
