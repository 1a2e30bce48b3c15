// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package crossref

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/doi-recovery/internal/httputil"
	"github.com/pdiddy/doi-recovery/internal/ratelimit"
	"github.com/pdiddy/doi-recovery/pkg/types"
)

const pmidResponse = `{
  "status": "ok",
  "message-type": "work-list",
  "message": {
    "total-results": 1,
    "items": [{
      "DOI": "10.1039/B612345A",
      "title": ["Microfluidic droplet generation"],
      "author": [{"given": "John", "family": "Smith"}, {"given": "María", "family": "García"}, {"name": "Lab Consortium"}],
      "container-title": ["Lab on a Chip"],
      "short-container-title": ["Lab Chip"],
      "volume": "7",
      "issue": "3",
      "page": "201-209",
      "issued": {"date-parts": [[2007, 3]]}
    }]
  }
}`

func testConfig() types.RecoveryConfig {
	cfg := types.DefaultRecoveryConfig()
	cfg.Contact = "ops@example.org"
	cfg.CacheTTL = 0
	cfg.Timeout = 2 * time.Second
	return cfg
}

func testGate(daily int) *ratelimit.Gate {
	return ratelimit.NewGate(ratelimit.Options{
		RequestsPerSecond: 1000,
		DailyLimit:        daily,
		DisablePacing:     true,
	})
}

var fastRetry = httputil.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func newTestClient(t *testing.T, ts *httptest.Server, gate *ratelimit.Gate, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBaseURL(ts.URL), WithHTTPClient(ts.Client()), WithRetryPolicy(fastRetry)}, opts...)
	c, err := New(testConfig(), gate, opts...)
	require.NoError(t, err)
	return c
}

func TestLookup_Identifier(t *testing.T) {
	var gotQuery, gotUA, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(pmidResponse))
	}))
	defer ts.Close()

	c := newTestClient(t, ts, testGate(100))
	res, err := c.Lookup(context.Background(), types.LookupQuery{
		Kind: types.QueryIdentifier, ExternalID: "12345678", Rows: 1,
	})
	require.NoError(t, err)

	assert.Equal(t, "/works", gotPath)
	assert.Contains(t, gotQuery, "filter=pmid%3A12345678")
	assert.Contains(t, gotQuery, "mailto=ops%40example.org")
	assert.Contains(t, gotQuery, "rows=1")
	assert.Equal(t, "doi-recovery/0.1 (mailto:ops@example.org)", gotUA)

	require.Len(t, res.Works, 1)
	w := res.Works[0]
	assert.Equal(t, "10.1039/b612345a", w.DOI)
	assert.Equal(t, "Microfluidic droplet generation", w.Title)
	assert.Equal(t, 2007, w.Year)
	assert.Equal(t, []string{"Smith, J.", "García, M.", "Lab Consortium"}, w.Authors)
	assert.Equal(t, "Lab on a Chip", w.Venue)
	assert.Equal(t, []string{"Lab Chip"}, w.VenueAliases)
	assert.Equal(t, "201-209", w.Page)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SuccessfulRequests)
}

func TestLookup_VenueAndTitleParams(t *testing.T) {
	var queries []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.Query().Encode())
		w.Write([]byte(`{"status":"ok","message-type":"work-list","message":{"items":[]}}`))
	}))
	defer ts.Close()

	c := newTestClient(t, ts, testGate(100))
	_, err := c.Lookup(context.Background(), types.LookupQuery{
		Kind: types.QueryVenue, Venue: "Lab on a Chip", Volume: "7", Issue: "3", Page: "201", Year: 2007, Rows: 5,
	})
	require.NoError(t, err)
	_, err = c.Lookup(context.Background(), types.LookupQuery{
		Kind: types.QueryTitle, Title: "Droplet sorting", Author: "Smith", Rows: 5,
	})
	require.NoError(t, err)

	require.Len(t, queries, 2)
	assert.Contains(t, queries[0], "query.container-title=Lab+on+a+Chip")
	assert.Contains(t, queries[0], "query.bibliographic=7+3+201")
	assert.Contains(t, queries[0], "filter=from-pub-date%3A2007%2Cuntil-pub-date%3A2007")
	assert.Contains(t, queries[1], "query.title=Droplet+sorting")
	assert.Contains(t, queries[1], "query.author=Smith")
	assert.NotContains(t, queries[1], "filter=")
}

func TestLookup_NotFoundIsEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, testGate(100))
	res, err := c.Lookup(context.Background(), types.LookupQuery{Kind: types.QueryIdentifier, ExternalID: "1"})
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

func TestLookup_MalformedIsNotRetried(t *testing.T) {
	bodies := map[string]string{
		"garbage":       `<html>oops</html>`,
		"wrong type":    `{"status":"ok","message-type":"funder-list","message":{}}`,
		"failed status": `{"status":"failed","message-type":"work-list","message":{}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			var calls int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.Write([]byte(body))
			}))
			defer ts.Close()

			gate := testGate(100)
			c := newTestClient(t, ts, gate)
			_, err := c.Lookup(context.Background(), types.LookupQuery{Kind: types.QueryTitle, Title: "x"})
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
			assert.Equal(t, 1, gate.Snapshot().UsedToday)
		})
	}
}

func TestLookup_RetriesServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(pmidResponse))
	}))
	defer ts.Close()

	gate := testGate(100)
	c := newTestClient(t, ts, gate)
	res, err := c.Lookup(context.Background(), types.LookupQuery{Kind: types.QueryIdentifier, ExternalID: "1"})
	require.NoError(t, err)
	assert.Len(t, res.Works, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2, gate.Snapshot().UsedToday, "each request on the wire is charged once")
}

func TestLookup_ServerErrorExhausted(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, testGate(100))
	_, err := c.Lookup(context.Background(), types.LookupQuery{Kind: types.QueryIdentifier, ExternalID: "1"})

	var exhausted *httputil.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, ErrServiceError)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(3), c.Stats().FailedRequests)
}

func TestLookup_PersistentTooManyRequests(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, testGate(100))
	_, err := c.Lookup(context.Background(), types.LookupQuery{Kind: types.QueryIdentifier, ExternalID: "1"})
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(3), c.Stats().RateLimitedRequests)
}

func TestLookup_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	c := newTestClient(t, ts, testGate(100))
	_, err := c.Lookup(context.Background(), types.LookupQuery{Kind: types.QueryIdentifier, ExternalID: "1"})
	assert.ErrorIs(t, err, ErrServiceError)
	assert.False(t, httputil.IsRetryable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLookup_DailyCeilingFailsFast(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(pmidResponse))
	}))
	defer ts.Close()

	gate := ratelimit.NewGate(ratelimit.Options{
		RequestsPerSecond: 1000,
		DailyLimit:        10,
		UsedToday:         10,
		Day:               time.Now(),
		DisablePacing:     true,
	})
	c := newTestClient(t, ts, gate)
	_, err := c.Lookup(context.Background(), types.LookupQuery{Kind: types.QueryIdentifier, ExternalID: "1"})

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.ErrorIs(t, err, ratelimit.ErrDailyLimit)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(0), c.Stats().TotalRequests)
}

func TestLookup_CacheHitCostsNothing(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(pmidResponse))
	}))
	defer ts.Close()

	gate := testGate(100)
	cache := NewCache(time.Hour)
	c := newTestClient(t, ts, gate, WithCache(cache))
	q := types.LookupQuery{Kind: types.QueryIdentifier, ExternalID: "12345678", Rows: 1}

	first, err := c.Lookup(context.Background(), q)
	require.NoError(t, err)
	second, err := c.Lookup(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, gate.Snapshot().UsedToday)
	assert.Equal(t, int64(1), c.Stats().CacheHits)
	assert.Equal(t, 1, cache.Len())
}

func TestLookup_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	c, err := New(cfg, testGate(100), WithBaseURL(ts.URL), WithRetryPolicy(fastRetry))
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), types.LookupQuery{Kind: types.QueryTitle, Title: "slow"})
	assert.ErrorIs(t, err, ErrTimeout)
	var exhausted *httputil.ExhaustedError
	assert.ErrorAs(t, err, &exhausted)
}

func TestLookup_CancelledContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(pmidResponse))
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, ts, testGate(100))
	_, err := c.Lookup(ctx, types.LookupQuery{Kind: types.QueryIdentifier, ExternalID: "1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RequiresContact(t *testing.T) {
	cfg := testConfig()
	cfg.Contact = "  "
	_, err := New(cfg, testGate(1))
	assert.ErrorIs(t, err, types.ErrMissingContact)

	_, err = New(testConfig(), nil)
	assert.Error(t, err)
}

func TestNew_RejectsMalformedContact(t *testing.T) {
	for _, contact := range []string{"not-an-email", "ops@localhost", "@example.org", "ops@@example.org", "ops team@example.org", "ops@example..org"} {
		t.Run(contact, func(t *testing.T) {
			cfg := testConfig()
			cfg.Contact = contact
			c, err := New(cfg, testGate(1))
			assert.Nil(t, c)
			assert.ErrorIs(t, err, types.ErrInvalidContact)
		})
	}

	cfg := testConfig()
	cfg.Contact = " ops@example.org "
	c, err := New(cfg, testGate(1))
	require.NoError(t, err)
	assert.Equal(t, "ops@example.org", c.contact)
}

func TestNew_RetryPolicyDefaults(t *testing.T) {
	baseDelay, maxDelay := httputil.RetryBaseDelay, httputil.RetryMaxDelay
	httputil.RetryBaseDelay, httputil.RetryMaxDelay = time.Millisecond, 2*time.Millisecond
	t.Cleanup(func() { httputil.RetryBaseDelay, httputil.RetryMaxDelay = baseDelay, maxDelay })

	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	cfg := testConfig()
	cfg.MaxRetries = 0
	cfg.RetryBaseDelay = 0
	cfg.RetryMaxDelay = 0
	c, err := New(cfg, testGate(100), WithBaseURL(ts.URL), WithHTTPClient(ts.Client()))
	require.NoError(t, err)
	assert.Equal(t, httputil.DefaultPolicy(), c.policy)

	_, err = c.Lookup(context.Background(), types.LookupQuery{Kind: types.QueryIdentifier, ExternalID: "1"})
	assert.ErrorIs(t, err, ErrServiceError)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "an unset retry count still allows three attempts")

	cfg.MaxRetries = 5
	cfg.RetryBaseDelay = 10 * time.Millisecond
	c, err = New(cfg, testGate(100))
	require.NoError(t, err)
	assert.Equal(t, httputil.Policy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 2 * time.Millisecond}, c.policy)
}

func TestDecodeWorks_SingleWork(t *testing.T) {
	body := `{"status":"ok","message-type":"work","message":{"DOI":"10.1/X","title":["T"],"published-online":{"date-parts":[[2019]]}}}`
	res, err := decodeWorks([]byte(body))
	require.NoError(t, err)
	require.Len(t, res.Works, 1)
	assert.Equal(t, "10.1/x", res.Works[0].DOI)
	assert.Equal(t, 2019, res.Works[0].Year)
}

func TestDecodeWorks_SkipsItemsWithoutDOI(t *testing.T) {
	body := `{"status":"ok","message-type":"work-list","message":{"items":[{"title":["no doi"]},{"DOI":"10.1/y"}]}}`
	res, err := decodeWorks([]byte(body))
	require.NoError(t, err)
	require.Len(t, res.Works, 1)
	assert.True(t, strings.HasPrefix(res.Works[0].DOI, "10.1/"))
}
