package seed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmanear/m/domain"
	"pharmanear/m/internal/dbtest"
	"pharmanear/m/internal/medicines"
)

func newTestClient(url string) *Client {
	c := NewClient(url, nil)
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestParseSearchResponse(t *testing.T) {
	body := `[3, ["Aspirin", "Acetaminophen", "Amoxicillin"],
        {"STRENGTHS_AND_FORMS": [["81 mg Tab", "325 mg Tab"], ["500 mg Tab"]]}, null]`
	meds, err := parseSearchResponse([]byte(body))
	require.NoError(t, err)
	require.Len(t, meds, 3)
	assert.Equal(t, "Aspirin", meds[0].Name)
	assert.Equal(t, domain.StringList{"81 mg Tab", "325 mg Tab"}, meds[0].Strengths)
	assert.Equal(t, domain.StringList{"500 mg Tab"}, meds[1].Strengths)
	assert.Equal(t, domain.StringList{}, meds[2].Strengths)
	assert.Equal(t, domain.StringList{}, meds[2].Routes)

	meds, err = parseSearchResponse([]byte(`[0, []]`))
	require.NoError(t, err)
	assert.Empty(t, meds)

	for _, bad := range []string{`{}`, `[1]`, `[1, "x"]`, `not json`} {
		_, err := parseSearchResponse([]byte(bad))
		assert.Error(t, err, bad)
	}
}

func TestFetchLetterSendsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Q", r.URL.Query().Get("terms"))
		assert.Equal(t, "5000", r.URL.Query().Get("maxList"))
		assert.Equal(t, "STRENGTHS_AND_FORMS", r.URL.Query().Get("ef"))
		fmt.Fprint(w, `[1, ["Quinine"], {"STRENGTHS_AND_FORMS": [["324 mg Cap"]]}]`)
	}))
	defer srv.Close()

	meds, err := newTestClient(srv.URL).FetchLetter(context.Background(), "Q")
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "Quinine", meds[0].Name)
}

func TestFetchLetterRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `[1, ["Zinc"]]`)
	}))
	defer srv.Close()

	meds, err := newTestClient(srv.URL).FetchLetter(context.Background(), "Z")
	require.NoError(t, err)
	assert.Len(t, meds, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchLetterGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchLetter(context.Background(), "B")
	require.Error(t, err)
	assert.Equal(t, int32(maxFetchRetries+1), calls.Load())
}

func TestFetchLetterDoesNotRetryPermanentFailures(t *testing.T) {
	for name, handler := range map[string]http.HandlerFunc{
		"client error": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) },
		"malformed":    func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, `{"oops": true}`) },
	} {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				handler(w, r)
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).FetchLetter(context.Background(), "C")
			require.Error(t, err)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

type fakeFetcher struct {
	byLetter map[string][]domain.Medicine
	failOn   string
	block    chan struct{}
	calls    atomic.Int32
}

func (f *fakeFetcher) FetchLetter(ctx context.Context, letter string) ([]domain.Medicine, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if letter == f.failOn {
		return nil, errors.New("upstream unavailable")
	}
	return f.byLetter[letter], nil
}

func TestReloadReplacesCatalog(t *testing.T) {
	ctx := context.Background()
	dir := medicines.New(dbtest.Open(t))
	local, err := dir.FindOrCreate(ctx, "Aspirin", "")
	require.NoError(t, err)
	_, err = dir.FindOrCreate(ctx, "Homemade Tonic", "")
	require.NoError(t, err)

	fetcher := &fakeFetcher{byLetter: map[string][]domain.Medicine{
		"A": {{Name: "Aspirin", Strengths: domain.StringList{"81 mg Tab"}}, {Name: "Amoxicillin"}},
		"I": {{Name: "Ibuprofen"}, {Name: "IBUPROFEN", Strengths: domain.StringList{"200 mg Tab"}}},
	}}
	res, err := NewLoader(fetcher, dir, zerolog.Nop()).Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Fetched)
	assert.Equal(t, 3, res.Stored)
	assert.Equal(t, int32(26), fetcher.calls.Load())

	aspirin, err := dir.FindByExactName(ctx, "aspirin")
	require.NoError(t, err)
	require.Len(t, aspirin, 1)
	assert.Equal(t, local.ID, aspirin[0].ID)
	assert.Equal(t, domain.StringList{"81 mg Tab"}, aspirin[0].Strengths)

	ibu, err := dir.FindByExactName(ctx, "ibuprofen")
	require.NoError(t, err)
	require.Len(t, ibu, 1)
	assert.Equal(t, domain.StringList{"200 mg Tab"}, ibu[0].Strengths)

	tonic, err := dir.FindByExactName(ctx, "homemade tonic")
	require.NoError(t, err)
	assert.Empty(t, tonic)
}

func TestReloadIsIdempotentInContent(t *testing.T) {
	ctx := context.Background()
	dir := medicines.New(dbtest.Open(t))
	fetcher := &fakeFetcher{byLetter: map[string][]domain.Medicine{
		"M": {{Name: "Metformin"}, {Name: "Montelukast"}},
	}}
	loader := NewLoader(fetcher, dir, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := loader.Reload(ctx)
		require.NoError(t, err)
	}
	n, err := dir.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReloadFailureLeavesCatalogUntouched(t *testing.T) {
	ctx := context.Background()
	dir := medicines.New(dbtest.Open(t))
	_, err := dir.FindOrCreate(ctx, "Existing", "")
	require.NoError(t, err)

	fetcher := &fakeFetcher{
		byLetter: map[string][]domain.Medicine{"A": {{Name: "Aspirin"}}},
		failOn:   "M",
	}
	_, err = NewLoader(fetcher, dir, zerolog.Nop()).Reload(ctx)
	require.ErrorIs(t, err, domain.ErrCatalogLoadFailed)
	assert.Equal(t, int32(13), fetcher.calls.Load())

	n, err := dir.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	found, err := dir.FindByExactName(ctx, "existing")
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestReloadRefusesEmptyCatalog(t *testing.T) {
	ctx := context.Background()
	dir := medicines.New(dbtest.Open(t))
	_, err := dir.FindOrCreate(ctx, "Existing", "")
	require.NoError(t, err)

	fetcher := &fakeFetcher{byLetter: map[string][]domain.Medicine{"A": {{Name: "  "}}}}
	_, err = NewLoader(fetcher, dir, zerolog.Nop()).Reload(ctx)
	require.ErrorIs(t, err, domain.ErrCatalogLoadFailed)
	assert.Equal(t, int32(26), fetcher.calls.Load())

	n, err := dir.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReloaderRejectsOverlappingReloads(t *testing.T) {
	ctx := context.Background()
	dir := medicines.New(dbtest.Open(t))
	fetcher := &fakeFetcher{
		byLetter: map[string][]domain.Medicine{"B": {{Name: "Baclofen"}}},
		block:    make(chan struct{}),
	}
	reloader := NewReloader(NewLoader(fetcher, dir, zerolog.Nop()))

	require.True(t, reloader.Trigger(ctx))
	assert.True(t, reloader.Running())
	assert.False(t, reloader.Trigger(ctx))
	_, err := reloader.Run(ctx)
	assert.ErrorIs(t, err, ErrReloadInProgress)

	close(fetcher.block)
	reloader.Wait()
	assert.False(t, reloader.Running())

	_, err = reloader.Run(ctx)
	assert.NoError(t, err)
}

func TestTriggerSurvivesCallerCancellation(t *testing.T) {
	dir := medicines.New(dbtest.Open(t))
	fetcher := &fakeFetcher{
		byLetter: map[string][]domain.Medicine{"K": {{Name: "Ketorolac"}}},
		block:    make(chan struct{}),
	}
	reloader := NewReloader(NewLoader(fetcher, dir, zerolog.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, reloader.Trigger(ctx))
	cancel()
	close(fetcher.block)
	reloader.Wait()

	n, err := dir.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestShutdownCancelsReloadInFlight(t *testing.T) {
	ctx := context.Background()
	dir := medicines.New(dbtest.Open(t))
	_, err := dir.FindOrCreate(ctx, "Existing", "")
	require.NoError(t, err)

	fetcher := &fakeFetcher{
		byLetter: map[string][]domain.Medicine{"A": {{Name: "Aspirin"}}},
		block:    make(chan struct{}),
	}
	reloader := NewReloader(NewLoader(fetcher, dir, zerolog.Nop()))
	require.True(t, reloader.Trigger(ctx))

	// The fetcher never unblocks; only cancellation ends the reload.
	reloader.Shutdown()
	assert.False(t, reloader.Running())

	n, err := dir.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.False(t, reloader.Trigger(ctx))
	_, err = reloader.Run(ctx)
	assert.ErrorIs(t, err, ErrReloaderClosed)
}

func TestScheduler(t *testing.T) {
	dir := medicines.New(dbtest.Open(t))
	reloader := NewReloader(NewLoader(&fakeFetcher{}, dir, zerolog.Nop()))

	off := NewScheduler(reloader, "", zerolog.Nop())
	require.NoError(t, off.Start())
	assert.Zero(t, off.cron.Len())
	off.Stop()

	on := NewScheduler(reloader, "03:30", zerolog.Nop())
	require.NoError(t, on.Start())
	assert.Equal(t, 1, on.cron.Len())
	on.Stop()

	bad := NewScheduler(reloader, "25:99", zerolog.Nop())
	assert.Error(t, bad.Start())
}
