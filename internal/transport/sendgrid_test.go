package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendGridTransport_SendEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.key", r.Header.Get("Authorization"))

		var mail sendGridMail
		require.NoError(t, json.NewDecoder(r.Body).Decode(&mail))
		require.Len(t, mail.Personalizations, 1)
		assert.Equal(t, "ada@example.com", mail.Personalizations[0].To[0].Email)
		assert.Equal(t, "12", mail.Personalizations[0].CustomArgs["local_message_id"])
		assert.Equal(t, "news@example.com", mail.From.Email)
		assert.Equal(t, "Hello", mail.Subject)
		require.Len(t, mail.Content, 2)
		assert.Equal(t, "text/plain", mail.Content[0].Type)
		assert.Equal(t, "text/html", mail.Content[1].Type)

		w.Header().Set("X-Message-Id", "W86EgYT6SQKk0lRflfLRsA")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	tr, err := NewSendGridTransport(discardLogger(), server.URL, "SG.key", "", server.Client())
	require.NoError(t, err)

	res, err := tr.SendEmail(context.Background(), EmailRequest{
		To:         "ada@example.com",
		From:       "news@example.com",
		Subject:    "Hello",
		Text:       "plain",
		HTML:       "<p>html</p>",
		CustomArgs: map[string]string{"local_message_id": "12"},
	})
	require.NoError(t, err)
	assert.Equal(t, "W86EgYT6SQKk0lRflfLRsA", res.ProviderMessageID)
	assert.Equal(t, "accepted", res.Status)
}

func TestSendGridTransport_SendEmail_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errors":[{"message":"The from address does not match a verified Sender Identity.","field":"from"}]}`))
	}))
	defer server.Close()

	tr, err := NewSendGridTransport(discardLogger(), server.URL, "SG.key", "", server.Client())
	require.NoError(t, err)

	_, err = tr.SendEmail(context.Background(), EmailRequest{To: "a@b.co", From: "x@y.co", Subject: "s", Text: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verified Sender Identity")
}

func TestSendGridTransport_VerifyEventSignature(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)

	tr, err := NewSendGridTransport(discardLogger(), "", "SG.key", base64.StdEncoding.EncodeToString(der), nil)
	require.NoError(t, err)

	payload := []byte(`[{"event":"delivered","sg_message_id":"abc.filter1"}]`)
	timestamp := "1700000000"
	digest := sha256.Sum256(append([]byte(timestamp), payload...))
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	require.NoError(t, err)
	encoded := base64.StdEncoding.EncodeToString(sig)

	assert.True(t, tr.VerifyEventSignature(payload, encoded, timestamp))
	assert.False(t, tr.VerifyEventSignature(payload, encoded, "1700000001"))
	assert.False(t, tr.VerifyEventSignature([]byte(`[]`), encoded, timestamp))
	assert.False(t, tr.VerifyEventSignature(payload, "not-base64!", timestamp))
}

func TestNewSendGridTransport_BadKey(t *testing.T) {
	_, err := NewSendGridTransport(discardLogger(), "", "SG.key", "bm90IGEga2V5", nil)
	assert.Error(t, err)
}
