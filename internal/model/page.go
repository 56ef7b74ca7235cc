package model

import "time"

// CrawledPage represents a page fetched during crawling.
type CrawledPage struct {
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	BodyText        string    `json:"body_text"`
	Headings        []string  `json:"headings,omitempty"`
	MetaDescription string    `json:"meta_description,omitempty"`
	WordCount       int       `json:"word_count"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// CrawlResult holds the outcome of crawling a submission's website.
type CrawlResult struct {
	Pages        []CrawledPage `json:"pages"`
	ArtifactKeys []string      `json:"artifact_keys,omitempty"`
	SkippedURLs  []string      `json:"skipped_urls,omitempty"`
}
