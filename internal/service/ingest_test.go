package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"swapi-archive/internal/client"
	"swapi-archive/internal/model"
)

func lukeProps() map[string]interface{} {
	return map[string]interface{}{
		"name":       "Luke Skywalker",
		"birth_year": "19BBY",
		"eye_color":  "blue",
		"gender":     "male",
		"hair_color": "blond",
		"mass":       "77",
		"skin_color": "fair",
		"homeworld":  planetURL,
		"films":      []string{film1URL, film2URL},
		"species":    []string{},
		"starships":  []string{apiBase + "/starships/12"},
		"vehicles":   nil,
	}
}

func leiaProps() map[string]interface{} {
	return map[string]interface{}{
		"name":       "Leia Organa",
		"birth_year": "19BBY",
		"gender":     "female",
		"homeworld":  apiBase + "/planets/2",
		"films":      []string{film1URL},
	}
}

// registerGalaxy serves a two page listing of two people and their references.
func registerGalaxy(t *testing.T, mt *httpmock.MockTransport) {
	t.Helper()
	mt.RegisterResponder(http.MethodGet, peopleURL(),
		httpmock.NewStringResponder(http.StatusOK, pageBody(t, pageURL(2), personURL(1))))
	mt.RegisterResponder(http.MethodGet, pageURL(2),
		httpmock.NewStringResponder(http.StatusOK, pageBody(t, "", personURL(5))))
	mt.RegisterResponder(http.MethodGet, personURL(1),
		httpmock.NewStringResponder(http.StatusOK, personBody(t, "1", lukeProps())))
	mt.RegisterResponder(http.MethodGet, personURL(5),
		httpmock.NewStringResponder(http.StatusOK, personBody(t, "5", leiaProps())))
	mt.RegisterResponder(http.MethodGet, planetURL, httpmock.NewStringResponder(http.StatusOK, labelBody("name", "Tatooine")))
	mt.RegisterResponder(http.MethodGet, apiBase+"/planets/2", httpmock.NewStringResponder(http.StatusOK, labelBody("name", "Alderaan")))
	mt.RegisterResponder(http.MethodGet, film1URL, httpmock.NewStringResponder(http.StatusOK, labelBody("title", "A New Hope")))
	mt.RegisterResponder(http.MethodGet, film2URL, httpmock.NewStringResponder(http.StatusOK, labelBody("title", "The Empire Strikes Back")))
	mt.RegisterResponder(http.MethodGet, apiBase+"/starships/12", httpmock.NewStringResponder(http.StatusOK, labelBody("name", "X-wing")))
}

func newTestIngestor(f JSONFetcher, store *memStore, observer Observer) *Ingestor {
	return NewIngestor(
		fastLister(f, observer),
		f,
		NewResolver(f, nil, 0, nil),
		store,
		IngestOptions{BaseURL: peopleURL()},
		observer,
		nil,
	)
}

func expectedLuke() model.Character {
	return model.Character{
		ID:        1,
		Name:      "Luke Skywalker",
		BirthYear: "19BBY",
		EyeColor:  "blue",
		Gender:    "male",
		HairColor: "blond",
		Mass:      "77",
		SkinColor: "fair",
		Homeworld: "Tatooine",
		Films:     "A New Hope, The Empire Strikes Back",
		Species:   "",
		Starships: "X-wing",
		Vehicles:  "",
	}
}

func TestIngestor_Run_PersistsResolvedSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	f, mt := newTestFetcher(t, 3)
	registerGalaxy(t, mt)
	store := newMemStore(model.Character{ID: 99, Name: "stale"})
	obs := &countingObserver{}

	result, err := newTestIngestor(f, store, obs).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Discovered)
	assert.Equal(t, 2, result.Persisted)
	assert.Equal(t, 0, result.Dropped)
	assert.NotEmpty(t, result.RunID)
	assert.False(t, result.FinishedAt.Before(result.StartedAt))

	snap := store.snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, expectedLuke(), snap[1])
	assert.Equal(t, model.Character{
		ID:        5,
		Name:      "Leia Organa",
		BirthYear: "19BBY",
		Gender:    "female",
		Homeworld: "Alderaan",
		Films:     "A New Hope",
	}, snap[5])

	assert.Equal(t, []int{1, 2}, obs.pages)
	assert.ElementsMatch(t, []int64{1, 5}, obs.resolved)
}

func TestIngestor_Run_HomeworldFailureLeavesEmptyLabel(t *testing.T) {
	f, mt := newTestFetcher(t, 3)
	registerGalaxy(t, mt)
	mt.RegisterResponder(http.MethodGet, planetURL, timeoutResponder)

	store := newMemStore()
	_, err := newTestIngestor(f, store, nil).Run(context.Background())
	require.NoError(t, err)

	want := expectedLuke()
	want.Homeworld = ""
	assert.Equal(t, want, store.snapshot()[1])
	assert.Equal(t, "Alderaan", store.snapshot()[5].Homeworld)
}

func TestIngestor_Run_NothingDiscoveredKeepsSnapshot(t *testing.T) {
	f, mt := newTestFetcher(t, 3)
	mt.RegisterResponder(http.MethodGet, peopleURL(), httpmock.NewStringResponder(http.StatusOK, `{"next":null,"results":[]}`))

	prior := model.Character{ID: 1, Name: "Luke Skywalker"}
	store := newMemStore(prior)

	result, err := newTestIngestor(f, store, nil).Run(context.Background())

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrNothingDiscovered)
	assert.Equal(t, 0, store.replaces)
	assert.Equal(t, map[int64]model.Character{1: prior}, store.snapshot())
}

func TestIngestor_Run_ListingFailureKeepsSnapshot(t *testing.T) {
	f, mt := newTestFetcher(t, 3)
	mt.RegisterResponder(http.MethodGet, peopleURL(), httpmock.NewErrorResponder(errors.New("no such host")))

	store := newMemStore(model.Character{ID: 1, Name: "Luke Skywalker"})
	_, err := newTestIngestor(f, store, nil).Run(context.Background())

	assert.ErrorIs(t, err, ErrNothingDiscovered)
	assert.Equal(t, 0, store.replaces)
	assert.Len(t, store.snapshot(), 1)
}

func TestIngestor_Run_DropsFailedEntities(t *testing.T) {
	f, mt := newTestFetcher(t, 3)
	registerGalaxy(t, mt)
	mt.RegisterResponder(http.MethodGet, peopleURL(), httpmock.NewStringResponder(http.StatusOK,
		pageBody(t, "", personURL(1), personURL(2), personURL(3), personURL(4))))
	mt.RegisterResponder(http.MethodGet, personURL(2), httpmock.NewStringResponder(http.StatusInternalServerError, `{}`))
	mt.RegisterResponder(http.MethodGet, personURL(3), httpmock.NewStringResponder(http.StatusOK, `{"message":"ok","result":{"uid":"3"}}`))
	mt.RegisterResponder(http.MethodGet, personURL(4), httpmock.NewStringResponder(http.StatusOK, `{not json`))

	store := newMemStore()
	result, err := newTestIngestor(f, store, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, result.Discovered)
	assert.Equal(t, 1, result.Persisted)
	assert.Equal(t, 3, result.Dropped)
	assert.Equal(t, map[int64]model.Character{1: expectedLuke()}, store.snapshot())
}

func TestIngestor_Run_EnforcesSnapshotInvariants(t *testing.T) {
	f, mt := newTestFetcher(t, 3)
	registerGalaxy(t, mt)
	mt.RegisterResponder(http.MethodGet, peopleURL(), httpmock.NewStringResponder(http.StatusOK,
		pageBody(t, "", personURL(1), personURL(2), personURL(3))))
	// Same uid as person 1.
	mt.RegisterResponder(http.MethodGet, personURL(2), httpmock.NewStringResponder(http.StatusOK, personBody(t, "1", lukeProps())))
	// No name.
	mt.RegisterResponder(http.MethodGet, personURL(3), httpmock.NewStringResponder(http.StatusOK,
		personBody(t, "3", map[string]interface{}{"gender": "n/a"})))

	store := newMemStore()
	obs := &countingObserver{}
	result, err := newTestIngestor(f, store, obs).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Persisted)
	assert.Equal(t, 2, result.Dropped)
	assert.Equal(t, map[int64]model.Character{1: expectedLuke()}, store.snapshot())
	// Resolution is reported before invariants drop the duplicate and the nameless record.
	assert.ElementsMatch(t, []int64{1, 1, 3}, obs.resolved)
}

func TestIngestor_Run_StoreFailure(t *testing.T) {
	f, mt := newTestFetcher(t, 3)
	registerGalaxy(t, mt)

	store := newMemStore()
	store.err = errors.New("disk full")
	ing := newTestIngestor(f, store, nil)

	result, err := ing.Run(context.Background())
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Nil(t, ing.LastResult())
}

func TestIngestor_Run_Idempotent(t *testing.T) {
	f, mt := newTestFetcher(t, 3)
	registerGalaxy(t, mt)
	store := newMemStore()
	ing := newTestIngestor(f, store, nil)

	_, err := ing.Run(context.Background())
	require.NoError(t, err)
	first := store.snapshot()

	second, err := ing.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, store.snapshot())
	assert.Equal(t, 2, store.replaces)
	assert.Equal(t, second, ing.LastResult())
}

func TestIngestor_Run_RejectsConcurrentRun(t *testing.T) {
	f, mt := newTestFetcher(t, 3)
	registerGalaxy(t, mt)

	release := make(chan struct{})
	mt.RegisterResponder(http.MethodGet, peopleURL(), func(req *http.Request) (*http.Response, error) {
		<-release
		return httpmock.NewStringResponse(http.StatusOK, pageBody(t, "", personURL(1))), nil
	})

	ing := newTestIngestor(f, newMemStore(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := ing.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, ing.Running, time.Second, time.Millisecond)
	_, err := ing.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, ing.Running())
}

func TestIngestor_Run_DeadlineAbortsWithoutPersisting(t *testing.T) {
	f, mt := newTestFetcher(t, 3)
	registerGalaxy(t, mt)
	mt.RegisterResponder(http.MethodGet, personURL(1), func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	store := newMemStore(model.Character{ID: 1, Name: "Luke Skywalker"})
	ing := NewIngestor(fastLister(f, nil), f, NewResolver(f, nil, 0, nil), store,
		IngestOptions{BaseURL: peopleURL(), RunTimeout: 100 * time.Millisecond}, nil, nil)

	_, err := ing.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, store.replaces)
}

func TestIngestor_Run_GateBoundsAllRequests(t *testing.T) {
	const maxConcurrent = 4
	const people = 30

	var current, peak atomic.Int64
	track := func(body string) httpmock.Responder {
		return func(req *http.Request) (*http.Response, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
			return httpmock.NewStringResponse(http.StatusOK, body), nil
		}
	}

	mt := httpmock.NewMockTransport()
	f := client.NewFetcher(client.FetcherOptions{
		Timeout:       time.Second,
		MaxConcurrent: maxConcurrent,
		HTTPClient:    &http.Client{Transport: mt},
	}, nil)

	urls := make([]string, 0, people)
	for i := 1; i <= people; i++ {
		urls = append(urls, personURL(i))
		props := lukeProps()
		props["name"] = fmt.Sprintf("Clone %d", i)
		mt.RegisterResponder(http.MethodGet, personURL(i), track(personBody(t, fmt.Sprint(i), props)))
	}
	mt.RegisterResponder(http.MethodGet, peopleURL(), httpmock.NewStringResponder(http.StatusOK, pageBody(t, "", urls...)))
	mt.RegisterResponder(http.MethodGet, planetURL, track(labelBody("name", "Kamino")))
	mt.RegisterResponder(http.MethodGet, film1URL, track(labelBody("title", "Attack of the Clones")))
	mt.RegisterResponder(http.MethodGet, film2URL, track(labelBody("title", "Revenge of the Sith")))
	mt.RegisterResponder(http.MethodGet, apiBase+"/starships/12", track(labelBody("name", "Jedi Interceptor")))

	store := newMemStore()
	result, err := newTestIngestor(f, store, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, people, result.Persisted)
	assert.LessOrEqual(t, peak.Load(), int64(maxConcurrent))
	assert.Equal(t, 0, f.InFlight())
	assert.Equal(t, "Kamino", store.snapshot()[17].Homeworld)
}
