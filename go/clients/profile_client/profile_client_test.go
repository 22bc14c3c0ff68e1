package profile_client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/geotag/go/clients"
	"github.com/mcdev12/geotag/go/internal/models"
)

func profileServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != ProfilesEndpoint {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get(AuthorizationHeader); got != "Bearer tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var resp ProfilesResponse
		for _, raw := range strings.Split(r.URL.Query().Get("ids"), ",") {
			id, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, "bad id", http.StatusBadRequest)
				return
			}
			resp.Profiles = append(resp.Profiles, models.Profile{UserID: id, DisplayName: "p-" + raw[:4]})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestFetchProfiles(t *testing.T) {
	var calls atomic.Int32
	srv := profileServer(t, &calls)
	defer srv.Close()

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	got, err := NewProfileClient(srv.URL+"/", "tok").FetchProfiles(context.Background(), ids)
	if err != nil {
		t.Fatalf("FetchProfiles() error = %v", err)
	}
	if len(got) != 2 || got[0].UserID != ids[0] {
		t.Fatalf("FetchProfiles() = %+v", got)
	}
}

func TestFetchProfilesBatches(t *testing.T) {
	var calls atomic.Int32
	srv := profileServer(t, &calls)
	defer srv.Close()

	ids := make([]uuid.UUID, MaxBatch+1)
	for i := range ids {
		ids[i] = uuid.New()
	}
	got, err := NewProfileClient(srv.URL, "tok").FetchProfiles(context.Background(), ids)
	if err != nil {
		t.Fatalf("FetchProfiles() error = %v", err)
	}
	if len(got) != len(ids) {
		t.Fatalf("len(FetchProfiles()) = %d, want %d", len(got), len(ids))
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("requests = %d, want 2", n)
	}
}

func TestFetchProfilesStatusError(t *testing.T) {
	var calls atomic.Int32
	srv := profileServer(t, &calls)
	defer srv.Close()

	_, err := NewProfileClient(srv.URL, "wrong").FetchProfiles(context.Background(), []uuid.UUID{uuid.New()})
	var statusErr *clients.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("FetchProfiles() error = %v, want 401 StatusError", err)
	}
}

func TestFetchProfilesHonorsContext(t *testing.T) {
	var calls atomic.Int32
	srv := profileServer(t, &calls)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProfileClient(srv.URL, "tok").FetchProfiles(ctx, []uuid.UUID{uuid.New()}); !errors.Is(err, context.Canceled) {
		t.Fatalf("FetchProfiles() error = %v, want context.Canceled", err)
	}
}
