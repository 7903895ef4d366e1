package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/occupancy", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"name": "unauthorized", "message": "invalid token"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"count": 2, "total": 5, "duration": 7})
	})
	mux.HandleFunc("/api/v1/episodes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"limit": r.URL.Query().Get("limit")})
	})
	mux.HandleFunc("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"name": "unauthorized", "message": "invalid username or password"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "good", "expires_at": 1})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func runCLI(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"peoplecounter-cli"}, args...))
	if err != nil {
		return nil, err
	}
	var res map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	return res, nil
}

func TestOccupancyCommand(t *testing.T) {
	api := fakeAPI(t)

	res, err := runCLI(t, "--url", api.URL, "--token", "good", "occupancy")
	require.NoError(t, err)
	assert.EqualValues(t, 2, res["count"])
	assert.EqualValues(t, 5, res["total"])

	_, err = runCLI(t, "--url", api.URL, "--token", "bad", "occupancy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token")
}

func TestEpisodesCommandPassesLimit(t *testing.T) {
	api := fakeAPI(t)

	res, err := runCLI(t, "--url", api.URL, "episodes", "--limit", "3")
	require.NoError(t, err)
	assert.Equal(t, "3", res["limit"])
}

func TestLoginCommand(t *testing.T) {
	api := fakeAPI(t)

	res, err := runCLI(t, "--url", api.URL, "login", "--password", "secret")
	require.NoError(t, err)
	assert.Equal(t, "good", res["token"])

	_, err = runCLI(t, "--url", api.URL, "login", "--password", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid username or password")
}
