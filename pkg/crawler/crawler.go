package crawler

import (
	"context"

	"github.com/sells-group/intake-service/internal/model"
)

// Client crawls a submitted website and returns its readable pages. The
// call is opaque to the workflow engine: potentially slow, retryable,
// and subject to the step's timeout policy.
type Client interface {
	Crawl(ctx context.Context, websiteURL string) (*model.CrawlResult, error)
}

// Config tunes crawl behavior.
type Config struct {
	MaxPages    int      `yaml:"max_pages" mapstructure:"max_pages"`
	MaxDepth    int      `yaml:"max_depth" mapstructure:"max_depth"`
	UserAgent   string   `yaml:"user_agent" mapstructure:"user_agent"`
	RequestsPer float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	ExcludePath []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// DefaultConfig returns conservative crawl defaults.
func DefaultConfig() Config {
	return Config{
		MaxPages:    25,
		MaxDepth:    2,
		UserAgent:   "Mozilla/5.0 (compatible; IntakeBot/1.0)",
		RequestsPer: 2,
		ExcludePath: []string{"/blog/", "/news/", "/press/", "/careers/"},
	}
}
