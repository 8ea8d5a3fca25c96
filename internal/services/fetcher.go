package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/MegaGrindStone/websearch-chat/internal/models"
)

// Fetcher visits webpages and converts them to markdown. It performs exactly one GET per call, with no
// retries and no caching; the request timeout and redirect policy are those of the underlying client.
type Fetcher struct {
	client  *http.Client
	convert func(html string) (string, error)

	logger *slog.Logger
}

// FetchError reports a failed HTTP exchange: a transport error, a body read error, or a client/server
// error status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

var blankLinesRegexp = regexp.MustCompile(`\n{3,}`)

// NewFetcher creates a Fetcher using client. A nil client uses an empty http.Client.
func NewFetcher(client *http.Client, logger *slog.Logger) Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return Fetcher{
		client:  client,
		convert: func(html string) (string, error) { return htmltomarkdown.ConvertString(html) },
		logger:  logger.With(slog.String("module", "fetcher")),
	}
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%d %s for url: %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
	}
	return e.Err.Error()
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetch retrieves url and returns its content as markdown. It never fails: HTTP failures come back with
// a Reason starting with "Error fetching the webpage", and any other failure with a Reason starting with
// "An unexpected error occurred".
func (f Fetcher) Fetch(ctx context.Context, url string) models.WebpageResult {
	content, err := f.fetch(ctx, url)
	if err != nil {
		f.logger.Warn("Failed to fetch webpage",
			slog.String("url", url),
			slog.String(errLoggerKey, err.Error()))

		var fetchErr *FetchError
		if errors.As(err, &fetchErr) {
			return models.WebpageResult{URL: url, Reason: fmt.Sprintf("Error fetching the webpage: %s", err)}
		}
		return models.WebpageResult{URL: url, Reason: fmt.Sprintf("An unexpected error occurred: %s", err)}
	}

	return models.WebpageResult{URL: url, Content: content}
}

func (f Fetcher) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", &FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &FetchError{URL: url, Err: fmt.Errorf("error reading response: %w", err)}
	}

	markdown, err := f.convert(string(body))
	if err != nil {
		return "", fmt.Errorf("error converting html to markdown: %w", err)
	}

	return CollapseBlankLines(strings.TrimSpace(markdown)), nil
}

// CollapseBlankLines replaces every run of three or more line breaks with exactly two. Text without such
// runs is returned unchanged.
func CollapseBlankLines(s string) string {
	return blankLinesRegexp.ReplaceAllString(s, "\n\n")
}
