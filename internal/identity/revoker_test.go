package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevoker_Revoke(t *testing.T) {
	var gotToken, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotToken = r.URL.Query().Get("token")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := &Revoker{URL: srv.URL, HTTPClient: srv.Client()}
	require.NoError(t, r.Revoke(context.Background(), "ya29.a+b"))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "ya29.a+b", gotToken)
}

func TestRevoker_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := (&Revoker{URL: srv.URL}).Revoke(context.Background(), "unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}
