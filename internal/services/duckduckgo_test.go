package services_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MegaGrindStone/websearch-chat/internal/agents"
	"github.com/MegaGrindStone/websearch-chat/internal/services"
)

const duckDuckGoPage = `<html><body><div class="results">
<div class="result results_links result--ad">
  <a class="result__a" href="https://ads.example.com">Sponsored</a>
  <a class="result__snippet">Buy now</a>
</div>
<div class="result results_links">
  <h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fen.wikipedia.org%2Fwiki%2FParis&amp;rut=abc">
    Paris - Wikipedia</a></h2>
  <a class="result__snippet">Paris is the capital and largest city of France.</a>
</div>
<div class="result results_links">
  <h2><a class="result__a" href="https://www.britannica.com/place/Paris">Paris | Britannica</a></h2>
  <a class="result__snippet">Paris, city and capital of France.</a>
</div>
<div class="result results_links">
  <h2><a class="result__a" href="https://www.france.fr/paris">Visit Paris</a></h2>
  <a class="result__snippet">Plan your trip.</a>
</div>
</div></body></html>`

func TestDuckDuckGoSearch(t *testing.T) {
	var gotQuery, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		gotQuery = r.FormValue("q")
		gotAgent = r.UserAgent()
		if gotQuery == "nothing" {
			_, _ = w.Write([]byte(`<html><body><div class="no-results">No results.</div></body></html>`))
			return
		}
		_, _ = w.Write([]byte(duckDuckGoPage))
	}))
	defer srv.Close()

	ddg := services.NewDuckDuckGo(srv.URL, srv.Client(), slog.New(slog.DiscardHandler))

	results, err := ddg.Search(context.Background(), "capital of France", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if gotQuery != "capital of France" {
		t.Errorf("server received query %q", gotQuery)
	}
	if gotAgent == "" {
		t.Error("Search() sent no user agent")
	}
	if len(results) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(results))
	}

	want := []struct{ title, url, snippet string }{
		{"Paris - Wikipedia", "https://en.wikipedia.org/wiki/Paris", "Paris is the capital and largest city of France."},
		{"Paris | Britannica", "https://www.britannica.com/place/Paris", "Paris, city and capital of France."},
	}
	for i, w := range want {
		if results[i].Title != w.title || results[i].URL != w.url || results[i].Snippet != w.snippet {
			t.Errorf("result %d = %+v, want %+v", i, results[i], w)
		}
	}

	_, err = ddg.Search(context.Background(), "nothing", 10)
	if !errors.Is(err, agents.ErrNoResults) {
		t.Errorf("Search() error = %v, want ErrNoResults", err)
	}
}

func TestDuckDuckGoSearchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	ddg := services.NewDuckDuckGo(srv.URL, srv.Client(), slog.New(slog.DiscardHandler))
	_, err := ddg.Search(context.Background(), "paris", 10)
	if err == nil {
		t.Fatal("Search() error = nil, want error")
	}
	if errors.Is(err, agents.ErrNoResults) {
		t.Errorf("Search() error = %v, should not be ErrNoResults", err)
	}
}
