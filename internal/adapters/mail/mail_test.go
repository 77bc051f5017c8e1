package mail

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appointflow/notifier/config"
	"github.com/appointflow/notifier/internal/domain/model"
)

func testEmail() model.Email {
	return model.Email{
		From:           model.Sender{Name: "Events", Email: "events@example.com"},
		To:             model.Recipient{ID: "r-1", FullName: "Ada Lovelace", Email: "ada@example.com"},
		Subject:        "Reminder: Launch Party",
		HTML:           "<p>See you there</p>",
		IdempotencyKey: "sent:run-1:r-1",
	}
}

func TestBrevo_Send(t *testing.T) {
	var got brevoRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/smtp/email", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"messageId":"<abc@smtp-relay>"}`))
	}))
	defer srv.Close()

	b, err := NewBrevo(BrevoOptions{APIKey: "secret", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	id, err := b.Send(context.Background(), testEmail())
	require.NoError(t, err)
	assert.Equal(t, "<abc@smtp-relay>", id)
	assert.Equal(t, "events@example.com", got.Sender.Email)
	require.Len(t, got.To, 1)
	assert.Equal(t, "ada@example.com", got.To[0].Email)
	assert.Equal(t, "Ada Lovelace", got.To[0].Name)
	assert.Equal(t, "<p>See you there</p>", got.HTMLContent)
	assert.Equal(t, "sent:run-1:r-1", got.Headers[IdempotencyHeader])
}

func TestBrevo_MessageIDPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{name: "default", body: `{"messageId":"m-1"}`, want: "m-1"},
		{name: "nested", path: "data.ids[0]", body: `{"data":{"ids":["m-2","m-3"]}}`, want: "m-2"},
		{name: "list result", path: "messageIds", body: `{"messageIds":["m-4"]}`, want: "m-4"},
		{name: "missing", path: "nothing", body: `{"messageId":"m-5"}`, want: ""},
		{name: "empty body", body: ``, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			b, err := NewBrevo(BrevoOptions{APIKey: "k", BaseURL: srv.URL, MessageIDPath: tt.path})
			require.NoError(t, err)
			id, err := b.Send(context.Background(), testEmail())
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestBrevo_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid_parameter"}`))
	}))
	defer srv.Close()

	b, err := NewBrevo(BrevoOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = b.Send(context.Background(), testEmail())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Contains(t, err.Error(), "invalid_parameter")
}

func TestNewBrevo_Validation(t *testing.T) {
	_, err := NewBrevo(BrevoOptions{})
	require.Error(t, err)
	_, err = NewBrevo(BrevoOptions{APIKey: "k", MessageIDPath: "data[["})
	require.Error(t, err)
}

func TestSendGrid_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("X-Message-Id", "sg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewSendGrid(SendGridOptions{APIKey: "sg-key", Host: srv.URL})
	require.NoError(t, err)

	id, err := s.Send(context.Background(), testEmail())
	require.NoError(t, err)
	assert.Equal(t, "sg-123", id)
	assert.Equal(t, "Reminder: Launch Party", got["subject"])
	headers, ok := got["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sent:run-1:r-1", headers[IdempotencyHeader])
}

func TestSendGrid_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	defer srv.Close()

	s, err := NewSendGrid(SendGridOptions{APIKey: "sg-key", Host: srv.URL})
	require.NoError(t, err)
	_, err = s.Send(context.Background(), testEmail())
	require.ErrorIs(t, err, ErrRejected)
}

func TestLog_Send(t *testing.T) {
	l := NewLog(slog.New(slog.NewTextHandler(io.Discard, nil)))
	id, err := l.Send(context.Background(), testEmail())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Send(ctx, testEmail())
	require.ErrorIs(t, err, context.Canceled)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.MailConfig
		want    any
		wantErr bool
	}{
		{name: "log", cfg: config.MailConfig{Provider: config.MailProviderLog}, want: &Log{}},
		{name: "brevo", cfg: config.MailConfig{Provider: config.MailProviderBrevo, BrevoAPIKey: "k"}, want: &Brevo{}},
		{name: "sendgrid", cfg: config.MailConfig{Provider: config.MailProviderSendGrid, SendGridAPIKey: "k"}, want: &SendGrid{}},
		{name: "brevo without key", cfg: config.MailConfig{Provider: config.MailProviderBrevo}, wantErr: true},
		{name: "unknown", cfg: config.MailConfig{Provider: "carrier-pigeon"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, tr)
		})
	}
}
