package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClient_RequestToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/spaces/ABC123/token", r.URL.Path)
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "INVITE12", body["invite_code"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"lk-jwt","url":"ws://localhost:7880","role":"host","space_id":"3f1c","code":"ABC123","audio_only":true,"identity":"u-1"}`))
	}))
	defer srv.Close()

	c := NewAPIClient(srv.URL+"/", "user-token").WithInviteCode("INVITE12")
	grant, err := c.RequestToken(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "lk-jwt", grant.Token)
	assert.Equal(t, "ws://localhost:7880", grant.URL)
	assert.Equal(t, "host", grant.Role)
	assert.Equal(t, "u-1", grant.Identity)
	assert.True(t, grant.AudioOnly)
}

func TestAPIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"space has ended"}`))
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL, "tok").RequestToken(context.Background(), "ABC123")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "space has ended", apiErr.Message)
}

func TestAPIClient_EmptyGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewAPIClient(srv.URL, "tok").RequestToken(context.Background(), "ABC123")
	assert.Error(t, err)
}

func TestAPIClient_EndSession(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(`{"id":"3f1c","status":"ended"}`))
	}))
	defer srv.Close()

	require.NoError(t, NewAPIClient(srv.URL, "tok").EndSession(context.Background(), "ABC123"))
	assert.Equal(t, "/api/v1/spaces/ABC123/end", path)

	forbidden := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "only the host", http.StatusForbidden)
	}))
	defer forbidden.Close()

	err := NewAPIClient(forbidden.URL, "tok").EndSession(context.Background(), "ABC123")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "only the host", apiErr.Message)
}
