package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSender() *Sender {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewSender(5*time.Second, logger)
}

func TestSender_PostsJSON(t *testing.T) {
	var got map[string]any
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := newSender().Send(context.Background(), srv.URL, map[string]any{"conversation_id": 55})

	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, float64(55), got["conversation_id"])
}

func TestSender_NilPayloadIsEmptyObject(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 16)
		n, _ := r.Body.Read(buf)
		raw = string(buf[:n])
	}))
	defer srv.Close()

	require.NoError(t, newSender().Send(context.Background(), srv.URL, nil))
	assert.Equal(t, "{}", raw)
}

func TestSender_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newSender().Send(context.Background(), srv.URL, map[string]any{})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
}
