package crawler

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/intake-service/internal/model"
	"github.com/sells-group/intake-service/internal/resilience"
)

// maxBodyBytes caps how much of a response body is read per page.
const maxBodyBytes = 512 * 1024

// LocalCrawler fetches pages via net/http with a same-host breadth-first
// walk. Free, no API calls; a per-crawl rate limiter keeps it polite.
type LocalCrawler struct {
	cfg    Config
	client *http.Client
}

// NewLocal creates a LocalCrawler with sensible transport defaults.
func NewLocal(cfg Config) *LocalCrawler {
	def := DefaultConfig()
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.RequestsPer <= 0 {
		cfg.RequestsPer = def.RequestsPer
	}
	return &LocalCrawler{
		cfg: cfg,
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

type queued struct {
	url   string
	depth int
}

// Crawl walks the site breadth-first from websiteURL, staying on the
// same host and honoring the page and depth budgets. A failed root fetch
// fails the crawl; failures on inner pages just land in SkippedURLs.
func (l *LocalCrawler) Crawl(ctx context.Context, websiteURL string) (*model.CrawlResult, error) {
	root, err := url.Parse(websiteURL)
	if err != nil || root.Host == "" {
		return nil, resilience.Codef(400, "crawler: invalid url %q", websiteURL)
	}

	limiter := rate.NewLimiter(rate.Limit(l.cfg.RequestsPer), 1)
	result := &model.CrawlResult{}
	seen := map[string]bool{root.String(): true}
	queue := []queued{{url: root.String(), depth: 0}}

	for len(queue) > 0 && len(result.Pages) < l.cfg.MaxPages {
		item := queue[0]
		queue = queue[1:]

		if err := limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "crawler: rate limit wait")
		}

		page, links, fetchErr := l.fetch(ctx, item.url)
		if fetchErr != nil {
			if len(result.Pages) == 0 && item.depth == 0 {
				return nil, fetchErr
			}
			zap.L().Debug("crawler: skipping page",
				zap.String("url", item.url),
				zap.Error(fetchErr),
			)
			result.SkippedURLs = append(result.SkippedURLs, item.url)
			continue
		}

		result.Pages = append(result.Pages, *page)
		result.ArtifactKeys = append(result.ArtifactKeys,
			fmt.Sprintf("pages/%s/%03d.txt", root.Host, len(result.Pages)-1))

		if item.depth >= l.cfg.MaxDepth {
			continue
		}
		for _, link := range links {
			next, ok := l.resolveLink(root, item.url, link)
			if !ok || seen[next] {
				continue
			}
			seen[next] = true
			if len(seen) > l.cfg.MaxPages*4 {
				continue
			}
			queue = append(queue, queued{url: next, depth: item.depth + 1})
		}
	}

	zap.L().Info("crawler: crawl finished",
		zap.String("host", root.Host),
		zap.Int("pages", len(result.Pages)),
		zap.Int("skipped", len(result.SkippedURLs)),
	)
	return result, nil
}

// fetch retrieves one page and extracts its text content and outlinks.
func (l *LocalCrawler) fetch(ctx context.Context, pageURL string) (*model.CrawledPage, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, eris.Wrap(err, "crawler: create request")
	}
	req.Header.Set("User-Agent", l.cfg.UserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, nil, eris.Wrap(err, "crawler: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, nil, resilience.Codef(
			resilience.CodeFromHTTPStatus(resp.StatusCode),
			"crawler: %s returned status %d", pageURL, resp.StatusCode,
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, nil, eris.Wrap(err, "crawler: read body")
	}
	html := string(body)

	text := stripHTML(html)
	page := &model.CrawledPage{
		URL:             pageURL,
		Title:           extractFirst(titleRe, html),
		BodyText:        text,
		Headings:        extractAll(headingRe, html),
		MetaDescription: extractMetaDescription(html),
		WordCount:       len(strings.Fields(text)),
		FetchedAt:       time.Now().UTC(),
	}
	return page, extractAll(hrefRe, html), nil
}

// resolveLink normalizes an href against the page it came from and
// filters out offsite, non-HTTP, and excluded-path targets.
func (l *LocalCrawler) resolveLink(root *url.URL, fromURL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "javascript:") {
		return "", false
	}

	from, err := url.Parse(fromURL)
	if err != nil {
		return "", false
	}
	resolved, err := from.Parse(href)
	if err != nil {
		return "", false
	}
	resolved.Fragment = ""

	if resolved.Host != root.Host || (resolved.Scheme != "http" && resolved.Scheme != "https") {
		return "", false
	}
	for _, excl := range l.cfg.ExcludePath {
		if excl != "" && strings.Contains(resolved.Path, excl) {
			return "", false
		}
	}
	return resolved.String(), true
}

var (
	titleRe   = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	headingRe = regexp.MustCompile(`(?is)<h[1-3][^>]*>(.*?)</h[1-3]>`)
	hrefRe    = regexp.MustCompile(`(?is)<a\s[^>]*href\s*=\s*["']([^"']+)["']`)
	metaRe    = regexp.MustCompile(`(?is)<meta\s[^>]*name\s*=\s*["']description["'][^>]*>`)
	contentRe = regexp.MustCompile(`(?is)content\s*=\s*["']([^"']*)["']`)
	tagRe     = regexp.MustCompile(`<[^>]+>`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

func extractFirst(re *regexp.Regexp, html string) string {
	m := re.FindStringSubmatch(html)
	if len(m) > 1 {
		return cleanFragment(m[1])
	}
	return ""
}

func extractAll(re *regexp.Regexp, html string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(html, -1) {
		if len(m) > 1 {
			if s := cleanFragment(m[1]); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func extractMetaDescription(html string) string {
	tag := metaRe.FindString(html)
	if tag == "" {
		return ""
	}
	return extractFirst(contentRe, tag)
}

// stripHTML removes scripts/styles/nav/footer, strips tags, decodes
// entities, and collapses whitespace into plaintext suitable for LLM
// extraction.
func stripHTML(html string) string {
	for _, tag := range []string{"script", "style", "nav", "footer"} {
		re := regexp.MustCompile(`(?is)<` + tag + `[^>]*>.*?</` + tag + `>`)
		html = re.ReplaceAllString(html, "")
	}
	return cleanFragment(html)
}

func cleanFragment(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	).Replace(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
