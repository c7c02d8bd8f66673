package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*UserClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(Config{BaseURL: srv.URL, APIVersion: "v1", RateLimit: rate.Inf, Burst: 1})
	return c.ForUser("user-1", "key-1"), srv
}

func TestGetItemsSuccess(t *testing.T) {
	uc, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key-1" {
			t.Errorf("expected bearer auth header, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"data":    []map[string]string{{"id": "1", "name": "foo"}},
		})
	})
	defer srv.Close()

	items, err := uc.GetItems(context.Background(), false)
	if err != nil {
		t.Fatalf("GetItems: %v", err)
	}
	if len(items) != 1 || items[0].ID != "1" {
		t.Fatalf("expected one decoded item, got %+v", items)
	}
}

func TestGetItemsTransientDegradesToEmpty(t *testing.T) {
	uc, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	defer srv.Close()

	items, err := uc.GetItems(context.Background(), false)
	if err != nil {
		t.Fatalf("expected transient failure to degrade to nil error, got %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty item list, got %+v", items)
	}
}

func TestControlItemAuthError(t *testing.T) {
	uc, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "BAD_TOKEN"})
	})
	defer srv.Close()

	err := uc.ControlItem(context.Background(), "1", "stop_seeding")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError, got %v", err)
	}
}

func TestControlItem403WithKnownCodeIsAuthError(t *testing.T) {
	uc, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "no_auth"})
	})
	defer srv.Close()

	err := uc.ControlItem(context.Background(), "1", "delete")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected *AuthError for 403 NO_AUTH, got %v", err)
	}
}

func TestControlItem403WithUnknownCodeSurfaces(t *testing.T) {
	uc, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "SOME_OTHER_POLICY"})
	})
	defer srv.Close()

	err := uc.ControlItem(context.Background(), "1", "delete")
	var authErr *AuthError
	if errors.As(err, &authErr) {
		t.Fatalf("expected a non-auth 403 to surface plainly, got AuthError %v", authErr)
	}
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestControlItem5xxIsTransient(t *testing.T) {
	uc, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	defer srv.Close()

	err := uc.ControlItem(context.Background(), "1", "delete")
	var transientErr *TransientError
	if !errors.As(err, &transientErr) {
		t.Fatalf("expected *TransientError for a 5xx, got %v", err)
	}
}

func TestDeleteItemUsesDeleteOperation(t *testing.T) {
	var gotOp string
	uc, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Operation string `json:"operation"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotOp = body.Operation
		_ = json.NewEncoder(w).Encode(map[string]bool{"success": true})
	})
	defer srv.Close()

	if err := uc.DeleteItem(context.Background(), "1"); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if gotOp != "delete" {
		t.Fatalf("expected operation=delete, got %q", gotOp)
	}
}
