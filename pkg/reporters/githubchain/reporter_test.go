package githubchain

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/modoterra/logsink/pkg/core"
	"github.com/modoterra/logsink/pkg/github"
)

type call struct {
	Method string
	Path   string
	Auth   string
	Body   any
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (rec *recorder) add(r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body any
	if len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.calls = append(rec.calls, call{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
	})
}

func newReporter(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, base string)) *Reporter {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r, server.URL)
	}))
	t.Cleanup(server.Close)
	client, err := github.NewClient(github.Config{BaseURL: server.URL, HTTPClient: server.Client()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return New(client, nil)
}

func TestPush_ChainsResults(t *testing.T) {
	rec := &recorder{}
	reporter := newReporter(t, func(w http.ResponseWriter, r *http.Request, base string) {
		rec.add(r)
		switch r.URL.Path {
		case "/repos/o/r/commits/abc":
			_, _ = w.Write([]byte(`{"sha":"abc","url":"` + base + `/repos/o/r/statuses/abc"}`))
		case "/repos/o/r/statuses/abc":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":7}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	err := reporter.Push(context.Background(), core.Record{
		Message: "Done",
		Link:    "http://h/logs/r1/log",
		GitHub: &core.GitHub{
			Token: "tkn",
			Requests: []core.Request{
				{Resource: "/repos/o/r/commits/abc", Result: "r1"},
				{
					Resource: ":r1.url",
					Data:     map[string]any{"state": "success", "target_url": ":link", "description": "sha :r1.sha ok"},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}

	want := []call{
		{Method: http.MethodGet, Path: "/repos/o/r/commits/abc", Auth: "Bearer tkn"},
		{
			Method: http.MethodPost,
			Path:   "/repos/o/r/statuses/abc",
			Auth:   "Bearer tkn",
			Body: map[string]any{
				"state":       "success",
				"target_url":  "http://h/logs/r1/log",
				"description": "sha abc ok",
			},
		},
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestPush_ExplicitMethodAndLastResultWins(t *testing.T) {
	rec := &recorder{}
	count := 0
	reporter := newReporter(t, func(w http.ResponseWriter, r *http.Request, base string) {
		rec.add(r)
		count++
		switch count {
		case 1:
			_, _ = w.Write([]byte(`{"n":"first"}`))
		case 2:
			_, _ = w.Write([]byte(`{"n":"second"}`))
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	err := reporter.Push(context.Background(), core.Record{
		GitHub: &core.GitHub{
			Token: "tkn",
			Requests: []core.Request{
				{Resource: "/a", Result: "x"},
				{Resource: "/b", Result: "x"},
				{Method: "patch", Resource: "/c/:x.n"},
			},
		},
	})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	last := rec.calls[len(rec.calls)-1]
	if last.Method != http.MethodPatch || last.Path != "/c/second" {
		t.Errorf("last call = %s %s", last.Method, last.Path)
	}
}

func TestPush_StopsOnFailure(t *testing.T) {
	rec := &recorder{}
	reporter := newReporter(t, func(w http.ResponseWriter, r *http.Request, base string) {
		rec.add(r)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})

	err := reporter.Push(context.Background(), core.Record{
		GitHub: &core.GitHub{
			Token: "tkn",
			Requests: []core.Request{
				{Resource: "/missing", Result: "r1"},
				{Resource: ":r1.url"},
			},
		},
	})
	if !github.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if len(rec.calls) != 1 {
		t.Errorf("made %d calls, want 1", len(rec.calls))
	}
}

func TestPush_UnresolvedPlaceholder(t *testing.T) {
	reporter := newReporter(t, func(w http.ResponseWriter, r *http.Request, base string) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})

	err := reporter.Push(context.Background(), core.Record{
		GitHub: &core.GitHub{
			Token:    "tkn",
			Requests: []core.Request{{Resource: ":nothing.url"}},
		},
	})
	if err == nil {
		t.Fatal("expected error for unknown result")
	}
}

func TestPush_IgnoresRecordsWithoutRequests(t *testing.T) {
	reporter := newReporter(t, func(w http.ResponseWriter, r *http.Request, base string) {
		t.Errorf("unexpected request %s", r.URL.Path)
	})
	records := []core.Record{
		{Message: "hi"},
		{GitHub: &core.GitHub{Token: "tkn"}},
		{GitHub: &core.GitHub{Requests: []core.Request{{Resource: "/a"}}}},
	}
	for _, rec := range records {
		if err := reporter.Push(context.Background(), rec); err != nil {
			t.Errorf("Push(%+v): %v", rec, err)
		}
	}
}
