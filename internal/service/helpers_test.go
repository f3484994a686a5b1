package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"swapi-archive/internal/client"
	"swapi-archive/internal/model"
)

const apiBase = "https://swapi.test/api"

func peopleURL() string { return apiBase + "/people" }

func personURL(id int) string { return fmt.Sprintf("%s/people/%d", apiBase, id) }

func pageURL(n int) string { return fmt.Sprintf("%s/people/pages/%d", apiBase, n) }

// newTestFetcher returns a fetcher whose requests are served by a fresh mock transport.
func newTestFetcher(t *testing.T, maxConcurrent int) (*client.Fetcher, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	f := client.NewFetcher(client.FetcherOptions{
		Timeout:       time.Second,
		MaxConcurrent: maxConcurrent,
		HTTPClient:    &http.Client{Transport: mt},
	}, nil)
	return f, mt
}

func fastLister(f JSONFetcher, observer Observer) *PageLister {
	return NewPageLister(f, ListerOptions{MaxRetries: 3, RetryDelay: time.Millisecond}, observer, nil)
}

func pageBody(t *testing.T, next string, urls ...string) string {
	t.Helper()
	items := make([]map[string]string, 0, len(urls))
	for i, u := range urls {
		items = append(items, map[string]string{"uid": fmt.Sprint(i + 1), "name": "item", "url": u})
	}
	body := map[string]interface{}{"results": items, "next": nil}
	if next != "" {
		body["next"] = next
	}
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return string(b)
}

func personBody(t *testing.T, uid string, props map[string]interface{}) string {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"message": "ok",
		"result":  map[string]interface{}{"uid": uid, "properties": props},
	})
	require.NoError(t, err)
	return string(b)
}

func labelBody(field, value string) string {
	return fmt.Sprintf(`{"message":"ok","result":{"properties":{%q:%q}}}`, field, value)
}

// timeoutResponder fails the way an expired request deadline does.
func timeoutResponder(req *http.Request) (*http.Response, error) {
	return nil, context.DeadlineExceeded
}

// memStore is an in-memory SnapshotWriter that records every replace.
type memStore struct {
	mu       sync.Mutex
	records  map[int64]model.Character
	replaces int
	err      error
}

func newMemStore(initial ...model.Character) *memStore {
	s := &memStore{records: make(map[int64]model.Character)}
	for _, c := range initial {
		s.records[c.ID] = c
	}
	return s
}

func (s *memStore) ReplaceAll(ctx context.Context, records []model.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaces++
	if s.err != nil {
		return s.err
	}
	s.records = make(map[int64]model.Character, len(records))
	for _, c := range records {
		s.records[c.ID] = c
	}
	return nil
}

func (s *memStore) snapshot() map[int64]model.Character {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]model.Character, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// countingObserver records observer callbacks.
type countingObserver struct {
	mu       sync.Mutex
	pages    []int
	resolved []int64
}

func (o *countingObserver) OnPageFetched(n int) {
	o.mu.Lock()
	o.pages = append(o.pages, n)
	o.mu.Unlock()
}

func (o *countingObserver) OnEntityResolved(id int64) {
	o.mu.Lock()
	o.resolved = append(o.resolved, id)
	o.mu.Unlock()
}
