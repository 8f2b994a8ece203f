package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-dispatch/internal/domain"
)

func testMessage() *domain.EmailMessage {
	return &domain.EmailMessage{
		CampaignID:  "c1",
		RecipientID: 11,
		Email:       "a@x.com",
		FromName:    "Ann",
		FromEmail:   "ann@sender.com",
		Subject:     "Hello",
		HTMLContent: "<p>Hi</p>",
	}
}

// =============================================================================
// SparkPost
// =============================================================================

func TestSparkPostSender_Send_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/transmissions", r.URL.Path)
		assert.Equal(t, "sp-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Recipients []struct {
				Address struct {
					Email string `json:"email"`
				} `json:"address"`
			} `json:"recipients"`
			Content struct {
				From struct {
					Email string `json:"email"`
					Name  string `json:"name"`
				} `json:"from"`
				Subject string `json:"subject"`
			} `json:"content"`
			Metadata map[string]string `json:"metadata"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Recipients, 1)
		assert.Equal(t, "a@x.com", body.Recipients[0].Address.Email)
		assert.Equal(t, "ann@sender.com", body.Content.From.Email)
		assert.Equal(t, "Hello", body.Content.Subject)
		assert.Equal(t, "c1", body.Metadata["campaign_id"])
		assert.Equal(t, "11", body.Metadata["recipient_id"])

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"results":{"id":"tx-1","total_accepted_recipients":1}}`))
	}))
	defer server.Close()

	sender := NewSparkPostSender("sp-key", server.URL, 5*time.Second)
	res, err := sender.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "tx-1", res.MessageID)
	assert.Equal(t, domain.ESPSparkPost, res.ESPType)
	assert.False(t, res.SentAt.IsZero())
}

func TestSparkPostSender_Send_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"message":"invalid recipient"}]}`))
	}))
	defer server.Close()

	res, err := NewSparkPostSender("sp-key", server.URL, 5*time.Second).Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "sparkpost error 400")
	assert.Contains(t, res.Error, "invalid recipient")
}

func TestSparkPostSender_RetriesThrottled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"results":{"id":"tx-2"}}`))
	}))
	defer server.Close()

	sender := NewSparkPostSender("sp-key", server.URL, 5*time.Second).WithRetry(2, time.Millisecond)
	res, err := sender.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "tx-2", res.MessageID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSparkPostSender_NoAPIKey(t *testing.T) {
	_, err := NewSparkPostSender("", "", time.Second).Send(context.Background(), testMessage())
	assert.Error(t, err)
}

func TestSparkPostSender_DefaultBaseURL(t *testing.T) {
	s := NewSparkPostSender("k", "", time.Second)
	assert.Equal(t, "https://api.sparkpost.com/api/v1", s.baseURL)
}

// =============================================================================
// Mailgun
// =============================================================================

func TestMailgunSender_Send_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mg.sender.com/messages", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "api", user)
		assert.Equal(t, "mg-key", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Ann <ann@sender.com>", r.PostForm.Get("from"))
		assert.Equal(t, "a@x.com", r.PostForm.Get("to"))
		assert.Equal(t, "Hello", r.PostForm.Get("subject"))
		assert.Equal(t, "c1", r.PostForm.Get("v:campaign_id"))
		assert.Equal(t, "<list-unsubscribe@x.com>", r.PostForm.Get("h:List-Unsubscribe"))

		w.Write([]byte(`{"id":"<20240310.abc@mg.sender.com>","message":"Queued. Thank you."}`))
	}))
	defer server.Close()

	msg := testMessage()
	msg.Headers = map[string]string{"List-Unsubscribe": "<list-unsubscribe@x.com>"}
	res, err := NewMailgunSender("mg-key", "mg.sender.com", server.URL, 5*time.Second).Send(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "20240310.abc@mg.sender.com", res.MessageID)
	assert.Equal(t, domain.ESPMailgun, res.ESPType)
}

func TestMailgunSender_Send_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Forbidden"))
	}))
	defer server.Close()

	res, err := NewMailgunSender("bad", "mg.sender.com", server.URL, 5*time.Second).Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "mailgun error 401")
}

func TestMailgunSender_RequiresDomain(t *testing.T) {
	_, err := NewMailgunSender("k", "", "", time.Second).Send(context.Background(), testMessage())
	assert.Error(t, err)
}

// =============================================================================
// SendGrid
// =============================================================================

func TestSendGridSender_Send_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "Hello", payload["subject"])

		w.Header().Set("X-Message-Id", "sg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	res, err := NewSendGridSender("sg-key", server.URL, 5*time.Second).Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "sg-123", res.MessageID)
}

func TestSendGridSender_Send_GeneratesIDWhenMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	res, err := NewSendGridSender("sg-key", server.URL, 5*time.Second).Send(context.Background(), testMessage())
	require.NoError(t, err)
	_, perr := uuid.Parse(res.MessageID)
	assert.NoError(t, perr)
}

func TestSendGridSender_Send_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(strings.Repeat("x", 2000)))
	}))
	defer server.Close()

	res, err := NewSendGridSender("sg-key", server.URL, 5*time.Second).Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "sendgrid error 429")
	assert.Less(t, len(res.Error), 600)
}

func TestSendGridSender_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	_, err := NewSendGridSender("sg-key", server.URL, time.Second).Send(context.Background(), testMessage())
	assert.Error(t, err)
}

// =============================================================================
// SES
// =============================================================================

func TestSESSender_Send_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/email/outbound-emails", r.URL.Path)
		assert.Contains(t, r.Header.Get("Authorization"), "AKIDTEST")

		var in struct {
			FromEmailAddress string
			Destination      struct{ ToAddresses []string }
			EmailTags        []struct{ Name, Value string }
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Ann <ann@sender.com>", in.FromEmailAddress)
		assert.Equal(t, []string{"a@x.com"}, in.Destination.ToAddresses)
		require.Len(t, in.EmailTags, 1)
		assert.Equal(t, "c1", in.EmailTags[0].Value)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"MessageId":"ses-0001"}`))
	}))
	defer server.Close()

	sender, err := NewSESSender(context.Background(), SESOptions{
		AccessKey: "AKIDTEST", SecretKey: "secret", Region: "us-west-2", Endpoint: server.URL,
	})
	require.NoError(t, err)

	res, err := sender.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ses-0001", res.MessageID)
	assert.Equal(t, domain.ESPSES, res.ESPType)
}

func TestSESSender_Send_APIErrorIsFailedResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Amzn-ErrorType", "MessageRejected")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Email address is not verified."}`))
	}))
	defer server.Close()

	sender, err := NewSESSender(context.Background(), SESOptions{
		AccessKey: "AKIDTEST", SecretKey: "secret", Endpoint: server.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", sender.region)

	res, err := sender.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

// =============================================================================
// Helpers
// =============================================================================

func TestFormatFrom(t *testing.T) {
	assert.Equal(t, "a@x.com", formatFrom("", "a@x.com"))
	assert.Equal(t, "Ann <a@x.com>", formatFrom("Ann", "a@x.com"))
}

func TestRecipientID(t *testing.T) {
	assert.Equal(t, "", recipientID(&domain.EmailMessage{}))
	assert.Equal(t, "42", recipientID(&domain.EmailMessage{RecipientID: 42}))
}
