// Package scroll reads whole indexes out of the search engine.
//
// A Client lists indexes and opens an Iterator per index. The Iterator drives
// the scroll protocol: one initial search obtains a scroll token and the
// total hit count, then scroll requests fetch page after page, always with
// the most recently returned token, until a page comes back empty. Each hit
// is yielded as a record in its original field order.
package scroll

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/roach88/ndexport/internal/record"
	"github.com/roach88/ndexport/internal/transport"
)

const (
	// DefaultChunkSize is the number of hits requested per page.
	DefaultChunkSize = 5000

	// DefaultTTL keeps the scroll session alive between two page requests.
	DefaultTTL = 5 * time.Minute
)

// Options configures one scroll. The zero value scans with match_all, 5000
// hits per page and a 5 minute TTL.
type Options struct {
	ChunkSize int
	TTL       time.Duration

	// Query is the JSON query clause sent with the initial search. It is
	// fixed for the whole iteration. Nil means MatchAll.
	Query json.RawMessage

	// Scan requests search_type=scan, the unsorted scan mode of 1.x clusters.
	Scan bool
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if len(o.Query) == 0 {
		o.Query = MatchAll()
	}
	return o
}

// Client talks to one search-engine endpoint.
type Client struct {
	baseURL   string
	transport *transport.Client
	opts      Options
	logger    *slog.Logger
}

// New returns a client for baseURL. Requests go through tc and inherit its
// retry policy.
func New(baseURL string, tc *transport.Client, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: tc,
		opts:      opts.withDefaults(),
		logger:    logger,
	}
}

// BaseURL returns the endpoint without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Indexes returns the existing index names, sorted. A non-empty pattern
// keeps only names matching it with shell glob rules (*, ?, [...]).
func (c *Client) Indexes(ctx context.Context, pattern string) ([]string, error) {
	if pattern != "" {
		if _, err := path.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("index pattern %q: %w", pattern, err)
		}
	}

	resp, err := c.transport.Get(ctx, c.baseURL+"/_aliases", nil)
	if err != nil {
		return nil, err
	}

	var aliases map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &aliases); err != nil {
		return nil, fmt.Errorf("decode index list: %w", err)
	}

	names := make([]string, 0, len(aliases))
	for name := range aliases {
		if pattern != "" {
			if ok, _ := path.Match(pattern, name); !ok {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Open starts a scroll over index. It satisfies the orchestrator's catalog
// contract together with Indexes.
func (c *Client) Open(ctx context.Context, index string) (record.Iterator, error) {
	return c.Scroll(ctx, index)
}

// Scroll issues the initial search against index and returns an iterator
// positioned before the first hit. The caller must Close it.
func (c *Client) Scroll(ctx context.Context, index string) (*Iterator, error) {
	it := &Iterator{client: c, index: index}
	if err := it.open(ctx); err != nil {
		return nil, err
	}
	return it, nil
}

func (c *Client) searchURL(index string) string {
	u := fmt.Sprintf("%s/%s/_search?", c.baseURL, index)
	if c.opts.Scan {
		u += "search_type=scan&"
	}
	return u + "scroll=" + ttlParam(c.opts.TTL)
}

func (c *Client) scrollURL() string {
	return c.baseURL + "/_search/scroll?scroll=" + ttlParam(c.opts.TTL)
}

// ttlParam renders d in the engine's time unit syntax, using the largest
// unit that divides it exactly.
func ttlParam(d time.Duration) string {
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
}
