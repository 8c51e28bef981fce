package scroll

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndexport/internal/record"
	"github.com/roach88/ndexport/internal/testutil"
	"github.com/roach88/ndexport/internal/transport"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, baseURL string, opts Options) (*Client, *testutil.FakeSleeper) {
	t.Helper()
	sleeper := testutil.NewFakeSleeper()
	tc := transport.NewClient(5*time.Second, transport.DefaultPolicy(), quietLogger())
	tc.Sleeper = sleeper
	return New(baseURL, tc, opts, quietLogger()), sleeper
}

func scrollRequests(reqs []testutil.ElasticRequest) []testutil.ElasticRequest {
	var out []testutil.ElasticRequest
	for _, r := range reqs {
		if r.Path == "/_search/scroll" && r.Method == http.MethodGet {
			out = append(out, r)
		}
	}
	return out
}

func TestScroll_TerminatesOnEmptyPage(t *testing.T) {
	es := testutil.NewElasticServer(t)
	es.GenerateHits("logs-2024.01.01", 10003)
	client, _ := newTestClient(t, es.URL, Options{ChunkSize: 5000, Scan: true})

	it, err := client.Scroll(context.Background(), "logs-2024.01.01")
	require.NoError(t, err)

	records, err := record.Collect(context.Background(), it)
	require.NoError(t, err)
	assert.Len(t, records, 10003)

	// Page sizes 5000, 5000, 3, 0.
	assert.Len(t, scrollRequests(es.Requests()), 4)

	total, ok := it.Total()
	assert.True(t, ok)
	assert.Equal(t, int64(10003), total)
}

func TestScroll_NonScanYieldsInitialPage(t *testing.T) {
	es := testutil.NewElasticServer(t)
	es.GenerateHits("idx", 25)
	client, _ := newTestClient(t, es.URL, Options{ChunkSize: 10})

	it, err := client.Scroll(context.Background(), "idx")
	require.NoError(t, err)
	records, err := record.Collect(context.Background(), it)
	require.NoError(t, err)

	require.Len(t, records, 25)
	for i, r := range records {
		src, ok := r.Get("_source")
		require.True(t, ok)
		obj, _ := src.AsObject()
		n, _ := obj.Get("n")
		num, _ := n.AsNumber()
		assert.Equal(t, json.Number(strconv.Itoa(i)), num)
	}
	// Initial page of 10, then scroll pages 10, 5, 0.
	assert.Len(t, scrollRequests(es.Requests()), 3)

	reqs := es.Requests()
	assert.NotContains(t, reqs[0].RawQuery, "search_type")
}

func TestScroll_HitsKeepFieldOrder(t *testing.T) {
	es := testutil.NewElasticServer(t)
	es.AddIndex("idx", json.RawMessage(`{"_index":"idx","_type":"event","_id":"a1","_source":{"z":1,"a":"x"}}`))
	client, _ := newTestClient(t, es.URL, Options{})

	it, err := client.Scroll(context.Background(), "idx")
	require.NoError(t, err)
	records, err := record.Collect(context.Background(), it)
	require.NoError(t, err)
	require.Len(t, records, 1)

	data, err := json.Marshal(records[0])
	require.NoError(t, err)
	assert.Equal(t, `{"_index":"idx","_type":"event","_id":"a1","_source":{"z":1,"a":"x"}}`, string(data))
}

func TestScroll_AlwaysUsesLatestToken(t *testing.T) {
	es := testutil.NewElasticServer(t)
	es.GenerateHits("idx", 7)
	client, _ := newTestClient(t, es.URL, Options{ChunkSize: 2, Scan: true})

	it, err := client.Scroll(context.Background(), "idx")
	require.NoError(t, err)
	_, err = record.Collect(context.Background(), it)
	require.NoError(t, err)

	var bodies []string
	for _, r := range scrollRequests(es.Requests()) {
		bodies = append(bodies, r.Body)
	}
	// Pages 2, 2, 2, 1, 0.
	assert.Equal(t, []string{"scroll-1", "scroll-2", "scroll-3", "scroll-4", "scroll-5"}, bodies)
}

func TestScroll_JSONScrollIDWithoutScan(t *testing.T) {
	es := testutil.NewElasticServer(t)
	es.GenerateHits("idx", 5)
	client, _ := newTestClient(t, es.URL, Options{ChunkSize: 2})

	it, err := client.Scroll(context.Background(), "idx")
	require.NoError(t, err)
	records, err := record.Collect(context.Background(), it)
	require.NoError(t, err)
	assert.Len(t, records, 5)

	var bodies []string
	for _, r := range scrollRequests(es.Requests()) {
		bodies = append(bodies, r.Body)
	}
	// Initial page 2, then scroll pages 2, 1, 0.
	assert.Equal(t, []string{
		`{"scroll_id":"scroll-1"}`,
		`{"scroll_id":"scroll-2"}`,
		`{"scroll_id":"scroll-3"}`,
	}, bodies)

	var release []string
	for _, r := range es.Requests() {
		if r.Method == http.MethodDelete {
			release = append(release, r.Body)
		}
	}
	assert.Equal(t, []string{`{"scroll_id":["scroll-4"]}`}, release)
	assert.Equal(t, 0, es.OpenSessions())
}

func TestScroll_BareTokenRejectedWithoutScan(t *testing.T) {
	es := testutil.NewElasticServer(t)
	es.GenerateHits("idx", 5)
	client, _ := newTestClient(t, es.URL, Options{ChunkSize: 2})

	it, err := client.Scroll(context.Background(), "idx")
	require.NoError(t, err)
	defer it.Close()

	req, err := http.NewRequest(http.MethodGet, es.URL+"/_search/scroll?scroll=5m", strings.NewReader(it.Token()))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScroll_InitialRequest(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantQuery string
		wantBody  string
	}{
		{
			name:      "defaults",
			opts:      Options{Scan: true},
			wantQuery: "search_type=scan&scroll=5m",
			wantBody:  `{"size":5000,"query":{"match_all":{}}}`,
		},
		{
			name:      "query string",
			opts:      Options{ChunkSize: 100, TTL: 90 * time.Second, Query: QueryString("status:500")},
			wantQuery: "scroll=90s",
			wantBody:  `{"size":100,"query":{"constant_score":{"filter":{"query":{"query_string":{"query":"status:500"}}}}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es := testutil.NewElasticServer(t)
			es.GenerateHits("idx", 3)
			client, _ := newTestClient(t, es.URL, tt.opts)

			it, err := client.Scroll(context.Background(), "idx")
			require.NoError(t, err)
			_, err = record.Collect(context.Background(), it)
			require.NoError(t, err)

			reqs := es.Requests()
			require.NotEmpty(t, reqs)
			assert.Equal(t, "/idx/_search", reqs[0].Path)
			assert.Equal(t, tt.wantQuery, reqs[0].RawQuery)
			assert.JSONEq(t, tt.wantBody, reqs[0].Body)

			for _, r := range scrollRequests(reqs) {
				assert.NotContains(t, r.Body, "query")
				assert.Equal(t, strings.TrimPrefix(tt.wantQuery, "search_type=scan&"), r.RawQuery)
			}
		})
	}
}

func TestScroll_TotalAsObject(t *testing.T) {
	es := testutil.NewElasticServer(t)
	es.TotalAsObject = true
	es.GenerateHits("idx", 4)
	client, _ := newTestClient(t, es.URL, Options{})

	it, err := client.Scroll(context.Background(), "idx")
	require.NoError(t, err)
	defer it.Close()

	total, ok := it.Total()
	assert.True(t, ok)
	assert.Equal(t, int64(4), total)
}

func TestScroll_CloseReleasesLatestToken(t *testing.T) {
	es := testutil.NewElasticServer(t)
	es.GenerateHits("idx", 7)
	client, _ := newTestClient(t, es.URL, Options{ChunkSize: 2, Scan: true})

	it, err := client.Scroll(context.Background(), "idx")
	require.NoError(t, err)
	_, err = record.Collect(context.Background(), it)
	require.NoError(t, err)

	assert.Equal(t, []string{it.Token()}, es.Released())
	assert.Equal(t, 0, es.OpenSessions())
}

func TestScroll_EarlyAbandonmentReleases(t *testing.T) {
	es := testutil.NewElasticServer(t)
	es.GenerateHits("idx", 50)
	client, _ := newTestClient(t, es.URL, Options{ChunkSize: 10, Scan: true})

	it, err := client.Scroll(context.Background(), "idx")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := it.Next(context.Background())
		require.NoError(t, err)
	}

	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	assert.Len(t, es.Released(), 1)
	assert.Equal(t, 0, es.OpenSessions())

	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScroll_ReleaseFailureIsNotFatal(t *testing.T) {
	es := testutil.NewElasticServer(t)
	es.GenerateHits("idx", 1)
	client, _ := newTestClient(t, es.URL, Options{})

	it, err := client.Scroll(context.Background(), "idx")
	require.NoError(t, err)
	es.Close()

	assert.NoError(t, it.Close())
}

func TestScroll_StatusFailureIsNotRetried(t *testing.T) {
	es := testutil.NewElasticServer(t)
	es.GenerateHits("idx", 1)
	es.FailIndex("idx", http.StatusInternalServerError)
	client, sleeper := newTestClient(t, es.URL, Options{})

	_, err := client.Scroll(context.Background(), "idx")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, transport.StatusCode(err))
	assert.Contains(t, err.Error(), es.URL+"/idx/_search")
	assert.Equal(t, 0, sleeper.Count())
	assert.Len(t, es.Requests(), 1)
}

func TestScroll_MissingIndex(t *testing.T) {
	es := testutil.NewElasticServer(t)
	client, _ := newTestClient(t, es.URL, Options{})

	_, err := client.Scroll(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, transport.StatusCode(err))
}

func TestScroll_CancelledBetweenPages(t *testing.T) {
	es := testutil.NewElasticServer(t)
	es.GenerateHits("idx", 10)
	client, _ := newTestClient(t, es.URL, Options{ChunkSize: 5, Scan: true})

	ctx, cancel := context.WithCancel(context.Background())
	it, err := client.Scroll(ctx, "idx")
	require.NoError(t, err)
	defer it.Close()

	for i := 0; i < 5; i++ {
		_, err := it.Next(ctx)
		require.NoError(t, err)
	}
	cancel()
	_, err = it.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndexes(t *testing.T) {
	es := testutil.NewElasticServer(t)
	for _, name := range []string{"logs-2024.01.02", "metrics-2024.01.01", "logs-2024.01.01", ".kibana"} {
		es.AddIndex(name)
	}
	client, _ := newTestClient(t, es.URL+"/", Options{})

	tests := []struct {
		pattern string
		want    []string
	}{
		{"", []string{".kibana", "logs-2024.01.01", "logs-2024.01.02", "metrics-2024.01.01"}},
		{"logs-*", []string{"logs-2024.01.01", "logs-2024.01.02"}},
		{"*2024.01.01", []string{"logs-2024.01.01", "metrics-2024.01.01"}},
		{"nothing*", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, err := client.Indexes(context.Background(), tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := client.Indexes(context.Background(), "[")
	assert.Error(t, err)
}

func TestIndexes_UnreachableExhaustsRetries(t *testing.T) {
	es := testutil.NewElasticServer(t)
	url := es.URL
	es.Close()

	client, sleeper := newTestClient(t, url, Options{})
	_, err := client.Indexes(context.Background(), "")
	require.Error(t, err)
	assert.True(t, transport.IsUnreachable(err))
	assert.Equal(t, transport.MaxRequestRetries-1, sleeper.Count())
}

func TestTTLParam(t *testing.T) {
	assert.Equal(t, "5m", ttlParam(5*time.Minute))
	assert.Equal(t, "2h", ttlParam(2*time.Hour))
	assert.Equal(t, "90s", ttlParam(90*time.Second))
	assert.Equal(t, "1500ms", ttlParam(1500*time.Millisecond))
}
