package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, Token: "service-token"})
	require.NoError(t, err)
	return client
}

func TestUsersOf(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tenants/t1/users", r.URL.Path)
		require.Equal(t, "Bearer service-token", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]map[string]string{
			{"id": "u1", "email": "u1@example.com"},
			{"id": "u2", "email": "u2@example.com"},
		})
	})

	ids, err := client.UsersOf(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, []string{"u1", "u2"}, ids)
}

func TestUsersInRole(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tenants/t1/roles/case_manager/users", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]map[string]string{{"id": "u1"}})
	})

	ids, err := client.UsersInRole(context.Background(), "t1", "case_manager")
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, ids)
}

func TestAddressOf(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users/u1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "u1", "email": "u1@example.com"})
	})

	address, err := client.AddressOf(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "u1@example.com", address)
}

func TestAddressOfMissingEmail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "u1"})
	})

	_, err := client.AddressOf(context.Background(), "u1")
	require.Error(t, err)
}

func TestErrorStatusSurfaces(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.UsersOf(context.Background(), "t1")
	require.ErrorContains(t, err, "unexpected status 502")
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}
