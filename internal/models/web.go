package models

import "fmt"

// SearchResult is a single hit returned by a web search provider.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// WebpageResult is the outcome of visiting a webpage. It is either a success, carrying the URL and the
// page converted to markdown, or a failure, carrying a human readable Reason. Use Failed to tell them apart.
type WebpageResult struct {
	URL     string
	Content string

	// Reason is non-empty if and only if the fetch failed.
	Reason string
}

// Failed reports whether the page could not be fetched or converted.
func (w WebpageResult) Failed() bool {
	return w.Reason != ""
}

// String renders the result the way it is handed to a language model: the failure reason, or the URL
// followed by the page content.
func (w WebpageResult) String() string {
	if w.Failed() {
		return w.Reason
	}
	return fmt.Sprintf("URL: %s\n\n%s", w.URL, w.Content)
}
