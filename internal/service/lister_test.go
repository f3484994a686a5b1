package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

func TestPageLister_WalksNextChain(t *testing.T) {
	f, mt := newTestFetcher(t, 2)
	mt.RegisterResponder(http.MethodGet, peopleURL(),
		httpmock.NewStringResponder(http.StatusOK, pageBody(t, pageURL(2), personURL(1))))
	mt.RegisterResponder(http.MethodGet, pageURL(2),
		httpmock.NewStringResponder(http.StatusOK, pageBody(t, "", personURL(2))))

	obs := &countingObserver{}
	urls := fastLister(f, obs).ListAll(context.Background(), peopleURL())

	assert.Equal(t, []string{personURL(1), personURL(2)}, urls)
	assert.Equal(t, []int{1, 2}, obs.pages)
}

func TestPageLister_AcceptsAnyUIDShape(t *testing.T) {
	f, mt := newTestFetcher(t, 2)
	body := `{"next":null,"results":[` +
		`{"uid":1,"name":"Luke Skywalker","url":"` + personURL(1) + `"},` +
		`{"uid":{"id":2},"url":"` + personURL(2) + `"},` +
		`{"url":"` + personURL(3) + `"},` +
		`{"uid":4,"name":"no url"}]}`
	mt.RegisterResponder(http.MethodGet, peopleURL(), httpmock.NewStringResponder(http.StatusOK, body))

	urls := fastLister(f, nil).ListAll(context.Background(), peopleURL())

	assert.Equal(t, []string{personURL(1), personURL(2), personURL(3)}, urls)
}

func TestPageLister_RetriesTimeoutsThenSucceeds(t *testing.T) {
	f, mt := newTestFetcher(t, 2)

	attempts := 0
	mt.RegisterResponder(http.MethodGet, peopleURL(), func(req *http.Request) (*http.Response, error) {
		attempts++
		if attempts < 3 {
			return nil, context.DeadlineExceeded
		}
		return httpmock.NewStringResponse(http.StatusOK, pageBody(t, "", personURL(1), personURL(2))), nil
	})

	urls := fastLister(f, nil).ListAll(context.Background(), peopleURL())

	assert.Equal(t, []string{personURL(1), personURL(2)}, urls)
	assert.Equal(t, 3, attempts)
}

func TestPageLister_RetryExhaustionReturnsPrefix(t *testing.T) {
	f, mt := newTestFetcher(t, 2)
	mt.RegisterResponder(http.MethodGet, peopleURL(),
		httpmock.NewStringResponder(http.StatusOK, pageBody(t, pageURL(2), personURL(1))))
	mt.RegisterResponder(http.MethodGet, pageURL(2), timeoutResponder)
	mt.RegisterResponder(http.MethodGet, pageURL(3),
		httpmock.NewStringResponder(http.StatusOK, pageBody(t, "", personURL(3))))

	lister := NewPageLister(f, ListerOptions{MaxRetries: 3, RetryDelay: time.Millisecond}, nil, nil)
	urls := lister.ListAll(context.Background(), peopleURL())

	assert.Equal(t, []string{personURL(1)}, urls)
	info := mt.GetCallCountInfo()
	assert.Equal(t, 3, info["GET "+pageURL(2)])
	assert.Equal(t, 0, info["GET "+pageURL(3)])
}

func TestPageLister_TransportErrorStopsWithoutRetry(t *testing.T) {
	f, mt := newTestFetcher(t, 2)
	mt.RegisterResponder(http.MethodGet, peopleURL(),
		httpmock.NewStringResponder(http.StatusOK, pageBody(t, pageURL(2), personURL(1))))
	mt.RegisterResponder(http.MethodGet, pageURL(2), httpmock.NewErrorResponder(errors.New("connection reset")))

	urls := fastLister(f, nil).ListAll(context.Background(), peopleURL())

	assert.Equal(t, []string{personURL(1)}, urls)
	assert.Equal(t, 1, mt.GetCallCountInfo()["GET "+pageURL(2)])
}

func TestPageLister_NonSuccessStatusStops(t *testing.T) {
	f, mt := newTestFetcher(t, 2)
	mt.RegisterResponder(http.MethodGet, peopleURL(),
		httpmock.NewStringResponder(http.StatusOK, pageBody(t, pageURL(2), personURL(1), personURL(2))))
	mt.RegisterResponder(http.MethodGet, pageURL(2), httpmock.NewStringResponder(http.StatusTooManyRequests, `{}`))

	urls := fastLister(f, nil).ListAll(context.Background(), peopleURL())

	assert.Equal(t, []string{personURL(1), personURL(2)}, urls)
	assert.Equal(t, 1, mt.GetCallCountInfo()["GET "+pageURL(2)])
}

func TestPageLister_FirstPageFailureReturnsEmpty(t *testing.T) {
	f, mt := newTestFetcher(t, 2)
	mt.RegisterResponder(http.MethodGet, peopleURL(), timeoutResponder)

	urls := fastLister(f, nil).ListAll(context.Background(), peopleURL())

	assert.Empty(t, urls)
	assert.Equal(t, 3, mt.GetTotalCallCount())
}

func TestPageLister_SkipsItemsWithoutURL(t *testing.T) {
	f, mt := newTestFetcher(t, 2)
	mt.RegisterResponder(http.MethodGet, peopleURL(), httpmock.NewStringResponder(http.StatusOK,
		`{"next":null,"results":[{"uid":"1","url":""},{"uid":"2","url":"`+personURL(2)+`"}]}`))

	urls := fastLister(f, nil).ListAll(context.Background(), peopleURL())

	assert.Equal(t, []string{personURL(2)}, urls)
}

func TestPageLister_CanceledDuringRetryDelay(t *testing.T) {
	f, mt := newTestFetcher(t, 2)
	mt.RegisterResponder(http.MethodGet, peopleURL(), func(req *http.Request) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	lister := NewPageLister(f, ListerOptions{MaxRetries: 5, RetryDelay: time.Hour}, nil, nil)

	start := time.Now()
	urls := lister.ListAll(ctx, peopleURL())

	assert.Empty(t, urls)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}
