package scroll

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/roach88/ndexport/internal/record"
	"github.com/roach88/ndexport/internal/transport"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("scroll: iterator closed")

// Iterator yields the hits of one index. It moves Opening -> Streaming ->
// Closed: the initial search captures the token and the total, each scroll
// request replaces the token, and an empty page ends the stream.
//
// Iterators are single-pass and not safe for concurrent use.
type Iterator struct {
	client *Client
	index  string

	token    string
	total    int64
	hasTotal bool

	page   []record.Record
	pos    int
	pages  int
	done   bool
	closed bool
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Total hitsTotal       `json:"total"`
		Hits  []record.Record `json:"hits"`
	} `json:"hits"`
}

// hitsTotal accepts both a bare number and the {"value":n} object newer
// clusters return.
type hitsTotal struct {
	value int64
	set   bool
}

func (t *hitsTotal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			Value int64 `json:"value"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		t.value, t.set = obj.Value, true
		return nil
	}
	if err := json.Unmarshal(data, &t.value); err != nil {
		return err
	}
	t.set = true
	return nil
}

func (it *Iterator) open(ctx context.Context) error {
	c := it.client
	body, err := json.Marshal(struct {
		Size  int             `json:"size"`
		Query json.RawMessage `json:"query"`
	}{c.opts.ChunkSize, c.opts.Query})
	if err != nil {
		return fmt.Errorf("encode search body: %w", err)
	}

	resp, err := c.transport.Get(ctx, c.searchURL(it.index), body)
	if err != nil {
		return err
	}
	sr, err := decodeResponse(resp.Body)
	if err != nil {
		return fmt.Errorf("index %s: %w", it.index, err)
	}
	if sr.ScrollID == "" {
		return fmt.Errorf("index %s: search response has no _scroll_id", it.index)
	}

	it.token = sr.ScrollID
	it.total, it.hasTotal = sr.Hits.Total.value, sr.Hits.Total.set
	// Scan mode returns no hits here; plain scrolls return the first page.
	// Either way only an empty scroll page ends the stream.
	it.page = sr.Hits.Hits

	c.logger.Debug("scroll opened", "index", it.index, "total", it.total, "first_page", len(it.page))
	return nil
}

// Next returns the next hit, or io.EOF after the first empty page.
func (it *Iterator) Next(ctx context.Context) (record.Record, error) {
	for {
		if it.closed {
			return record.Record{}, ErrClosed
		}
		if it.pos < len(it.page) {
			r := it.page[it.pos]
			it.pos++
			return r, nil
		}
		if it.done {
			return record.Record{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return record.Record{}, err
		}
		if err := it.fetch(ctx); err != nil {
			return record.Record{}, err
		}
	}
}

func (it *Iterator) fetch(ctx context.Context) error {
	c := it.client
	body, err := c.scrollBody(it.token, false)
	if err != nil {
		return err
	}
	resp, err := c.transport.Get(ctx, c.scrollURL(), body)
	if err != nil {
		return err
	}
	sr, err := decodeResponse(resp.Body)
	if err != nil {
		return fmt.Errorf("index %s: scroll page %d: %w", it.index, it.pages+1, err)
	}

	it.pages++
	if sr.ScrollID != "" {
		it.token = sr.ScrollID
	}
	it.page, it.pos = sr.Hits.Hits, 0
	if len(it.page) == 0 {
		it.done = true
	}
	c.logger.Debug("scroll page", "index", it.index, "page", it.pages, "hits", len(it.page))
	return nil
}

func decodeResponse(data []byte) (*searchResponse, error) {
	var sr searchResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &sr, nil
}

// Total returns hits.total from the initial search.
func (it *Iterator) Total() (int64, bool) {
	return it.total, it.hasTotal
}

// Token returns the most recent scroll token.
func (it *Iterator) Token() string {
	return it.token
}

// Close releases the scroll session on the server with the latest token. A
// failed release is logged and otherwise ignored: the session expires on its
// own after the TTL.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.page = nil
	if it.token == "" {
		return nil
	}

	c := it.client
	body, err := c.scrollBody(it.token, true)
	if err != nil {
		c.logger.Warn("scroll release failed", "index", it.index, "error", err)
		return nil
	}
	tc := c.transport.WithPolicy(transport.NoRetry())
	if _, err := tc.Perform(context.Background(), http.MethodDelete, c.baseURL+"/_search/scroll", body); err != nil {
		c.logger.Warn("scroll release failed", "index", it.index, "error", err)
	}
	return nil
}

// scrollBody carries token to the scroll endpoints. Scan mode targets 1.x
// clusters, which take the bare token; later versions only parse a JSON
// body, and the release endpoint there takes a list of ids.
func (c *Client) scrollBody(token string, release bool) ([]byte, error) {
	if c.opts.Scan {
		return []byte(token), nil
	}
	var body any = struct {
		ScrollID string `json:"scroll_id"`
	}{token}
	if release {
		body = struct {
			ScrollID []string `json:"scroll_id"`
		}{[]string{token}}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode scroll id: %w", err)
	}
	return data, nil
}
