package testclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"vault-test-support/requestfactory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vaultLike(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/secret/data/app", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, `{"errors":["permission denied"]}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodGet:
			io.WriteString(w, `{"data":{"data":{"user":"alice"}}}`)
		case http.MethodPost, http.MethodPut:
			var in map[string]any
			json.NewDecoder(r.Body).Decode(&in)
			json.NewEncoder(w).Encode(map[string]any{"echo": in})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/v1/sys/broken", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"errors":["Vault is sealed"]}`)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTemplate(t *testing.T, srv *httptest.Server) *Template {
	t.Helper()
	tmpl, err := NewWithFactory(requestfactory.FromClient("test", srv.Client()))
	require.NoError(t, err)
	return tmpl.SetBaseURL(srv.URL)
}

func TestTemplateGetForObject(t *testing.T) {
	srv := vaultLike(t)
	tmpl := newTemplate(t, srv).SetVaultToken("root")

	var out struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	require.NoError(t, tmpl.GetForObject(context.Background(), "/v1/secret/data/app", &out))
	assert.Equal(t, "alice", out.Data.Data["user"])
}

func TestTemplatePostAndPut(t *testing.T) {
	srv := vaultLike(t)
	tmpl := newTemplate(t, srv).SetVaultToken("root")
	ctx := context.Background()

	var out map[string]map[string]any
	require.NoError(t, tmpl.PostForObject(ctx, "/v1/secret/data/app", map[string]any{"user": "bob"}, &out))
	assert.Equal(t, "bob", out["echo"]["user"])

	require.NoError(t, tmpl.Put(ctx, "/v1/secret/data/app", map[string]any{"user": "carol"}))
	require.NoError(t, tmpl.Delete(ctx, "/v1/secret/data/app"))
}

func TestTemplateRaisesClientError(t *testing.T) {
	srv := vaultLike(t)
	tmpl := newTemplate(t, srv)

	resp, err := tmpl.GetForEntity(context.Background(), "/v1/secret/data/app")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())

	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, http.MethodGet, se.Method)
	assert.True(t, se.IsClientError())
	assert.False(t, se.IsServerError())
	assert.Equal(t, []string{"permission denied"}, se.Errors)
	assert.Contains(t, se.Error(), "permission denied")
}

func TestTemplateRaisesServerError(t *testing.T) {
	srv := vaultLike(t)
	tmpl := newTemplate(t, srv)

	err := tmpl.GetForObject(context.Background(), "/v1/sys/broken", &map[string]any{})

	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.True(t, se.IsServerError())
	assert.Equal(t, []string{"Vault is sealed"}, se.Errors)
}

func TestTemplateRaisesOnPlainBody(t *testing.T) {
	srv := vaultLike(t)
	tmpl := newTemplate(t, srv)

	_, err := tmpl.Exchange(context.Background(), http.MethodGet, "/plain", nil, nil)

	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Empty(t, se.Errors)
	assert.Contains(t, string(se.Body), "nope")
}

func TestTemplateLeavesFactoryClientAlone(t *testing.T) {
	hc := &http.Client{}
	tmpl, err := NewWithFactory(requestfactory.FromClient("test", hc))
	require.NoError(t, err)

	assert.Nil(t, hc.CheckRedirect)
	assert.Same(t, hc, tmpl.RequestFactory().HTTPClient())
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Method: "GET", URL: "http://vault/v1/x", StatusCode: 502}
	assert.Equal(t, "GET http://vault/v1/x: 502 Bad Gateway", err.Error())

	_, ok := AsStatusError(io.EOF)
	assert.False(t, ok)
}
