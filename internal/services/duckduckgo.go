package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/websearch-chat/internal/agents"
	"github.com/MegaGrindStone/websearch-chat/internal/models"
	"github.com/PuerkitoBio/goquery"
)

// DuckDuckGo implements the Searcher interface by querying the DuckDuckGo HTML endpoint and scraping the
// result list.
type DuckDuckGo struct {
	endpoint string

	client *http.Client

	logger *slog.Logger
}

const (
	duckDuckGoEndpoint  = "https://html.duckduckgo.com/html/"
	duckDuckGoUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
)

// NewDuckDuckGo creates a DuckDuckGo searcher. An empty endpoint selects the public HTML endpoint, and a
// nil client an empty http.Client.
func NewDuckDuckGo(endpoint string, client *http.Client, logger *slog.Logger) DuckDuckGo {
	if endpoint == "" {
		endpoint = duckDuckGoEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	return DuckDuckGo{
		endpoint: endpoint,
		client:   client,
		logger:   logger.With(slog.String("module", "duckduckgo")),
	}
}

// Search returns up to maxResults organic results for query. Ads are skipped. It returns an error
// wrapping agents.ErrNoResults when the page lists no result.
func (d DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	form := url.Values{}
	form.Set("q", query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", duckDuckGoUserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error parsing response: %w", err)
	}

	results := parseDuckDuckGoResults(doc, maxResults)
	d.logger.Debug("Search completed",
		slog.String("query", query),
		slog.Int("results", len(results)))

	if len(results) == 0 {
		return nil, fmt.Errorf("duckduckgo: %w", agents.ErrNoResults)
	}
	return results, nil
}

func parseDuckDuckGoResults(doc *goquery.Document, maxResults int) []models.SearchResult {
	var results []models.SearchResult
	doc.Find("div.result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if maxResults > 0 && len(results) >= maxResults {
			return false
		}
		if s.HasClass("result--ad") {
			return true
		}

		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}

		results = append(results, models.SearchResult{
			Title:   strings.TrimSpace(link.Text()),
			URL:     resolveDuckDuckGoURL(href),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
		return true
	})
	return results
}

// resolveDuckDuckGoURL unwraps the redirect links DuckDuckGo puts on its results,
// e.g. //duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.com.
func resolveDuckDuckGoURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return href
}
