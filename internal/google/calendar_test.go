package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	cal "shiftcal/internal/calendar"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *CalendarClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := NewClientWithOptions(context.Background(), logger, "",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewClientWithOptions: %v", err)
	}
	return c
}

func TestCreateEvent(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/calendars/primary/events") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"evt-1"}`)
	})

	id, err := c.CreateEvent(context.Background(), cal.NewEvent{
		Title:    "McDonald's shift",
		Start:    "2025-12-31T23:00:00",
		End:      "2026-01-01T01:00:00",
		TimeZone: "Asia/Tokyo",
		ColorID:  1,
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if id != "evt-1" {
		t.Errorf("id = %q, want evt-1", id)
	}

	if got["summary"] != "McDonald's shift" || got["colorId"] != "1" {
		t.Errorf("body = %v", got)
	}
	start, _ := got["start"].(map[string]any)
	if start["dateTime"] != "2025-12-31T23:00:00" || start["timeZone"] != "Asia/Tokyo" {
		t.Errorf("start = %v", start)
	}
	end, _ := got["end"].(map[string]any)
	if end["dateTime"] != "2026-01-01T01:00:00" {
		t.Errorf("end = %v", end)
	}
}

func TestCreateEventErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"unauthorized", http.StatusUnauthorized, cal.IsAuthError},
		{"server error", http.StatusInternalServerError, func(err error) bool {
			var apiErr *cal.APIError
			return errors.As(err, &apiErr) && apiErr.Status == http.StatusInternalServerError
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"nope"}}`, tt.status)
			})
			_, err := c.CreateEvent(context.Background(), cal.NewEvent{Title: "x", Start: "2025-01-01T09:00:00", End: "2025-01-01T10:00:00", TimeZone: "Asia/Tokyo"})
			if err == nil || !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDeleteEvent(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"deleted", http.StatusNoContent, false},
		{"not found", http.StatusNotFound, false},
		{"gone", http.StatusGone, false},
		{"forbidden", http.StatusForbidden, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete || !strings.HasSuffix(r.URL.Path, "/events/evt-1") {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				w.WriteHeader(tt.status)
			})
			err := c.DeleteEvent(context.Background(), "evt-1")
			if (err != nil) != tt.wantErr {
				t.Errorf("DeleteEvent err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var apiErr *cal.APIError
				if !errors.As(err, &apiErr) || apiErr.Status != tt.status {
					t.Errorf("expected APIError with status %d, got %v", tt.status, err)
				}
			}
		})
	}
}

func TestTokenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := TokenPath(dir, "work")
	if filepath.Base(path) != "token-work.json" {
		t.Errorf("TokenPath = %s", path)
	}
	if err := SaveToken(path, &oauth2.Token{AccessToken: "abc", RefreshToken: "def"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	tok, err := tokenFromFile(path)
	if err != nil {
		t.Fatalf("tokenFromFile: %v", err)
	}
	if tok.RefreshToken != "def" {
		t.Errorf("refresh token = %q", tok.RefreshToken)
	}
	if err := SaveToken(TokenPath(dir, "home"), &oauth2.Token{AccessToken: "x"}); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sync-state.json"), []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	accounts, err := TokenAccounts(dir)
	if err != nil {
		t.Fatalf("TokenAccounts: %v", err)
	}
	if strings.Join(accounts, ",") != "home,work" {
		t.Errorf("accounts = %v", accounts)
	}

	if accounts, err := TokenAccounts(filepath.Join(dir, "missing")); err != nil || len(accounts) != 0 {
		t.Errorf("TokenAccounts(missing) = %v, %v", accounts, err)
	}
}
