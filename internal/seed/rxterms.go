package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"pharmanear/m/domain"
)

const (
	pageSize        = 5000
	strengthsField  = "STRENGTHS_AND_FORMS"
	maxFetchRetries = 3
	maxBodyBytes    = 32 << 20
)

// Client queries the RxTerms search endpoint one letter at a time.
type Client struct {
	baseURL    string
	http       *http.Client
	newBackOff func() backoff.BackOff
}

// NewClient returns a Client for baseURL. A nil httpClient gets a client
// with a one minute timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
	}
}

// FetchLetter returns every medicine whose name starts with letter, with the
// strengths listed by the upstream service. Transient failures are retried;
// 4xx responses and unparseable bodies are not.
func (c *Client) FetchLetter(ctx context.Context, letter string) ([]domain.Medicine, error) {
	var out []domain.Medicine
	op := func() error {
		meds, err := c.fetchOnce(ctx, letter)
		if err != nil {
			return err
		}
		out = meds
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Ctx(ctx).Warn().Err(err).Str("letter", letter).Dur("retry_in", wait).Msg("catalog fetch failed, retrying")
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxFetchRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, fmt.Errorf("fetch letter %s: %w", letter, err)
	}
	return out, nil
}

func (c *Client) fetchOnce(ctx context.Context, letter string) ([]domain.Medicine, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("invalid catalog url: %w", err))
	}
	q := u.Query()
	q.Set("terms", letter)
	q.Set("maxList", fmt.Sprint(pageSize))
	q.Set("ef", strengthsField)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("catalog service returned %s", resp.Status)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(fmt.Errorf("catalog service returned %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	meds, err := parseSearchResponse(body)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return meds, nil
}

// parseSearchResponse decodes [total, [names], {STRENGTHS_AND_FORMS: [[...]]}, ...].
// The strengths list is aligned with names by index and may be shorter.
func parseSearchResponse(body []byte) ([]domain.Medicine, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, fmt.Errorf("malformed catalog response: %w", err)
	}
	if len(parts) < 2 {
		return nil, fmt.Errorf("malformed catalog response: expected at least 2 elements, got %d", len(parts))
	}

	var names []string
	if err := json.Unmarshal(parts[1], &names); err != nil {
		return nil, fmt.Errorf("malformed catalog names: %w", err)
	}

	var strengths [][]string
	if len(parts) > 2 {
		var extra map[string][][]string
		if err := json.Unmarshal(parts[2], &extra); err != nil {
			return nil, fmt.Errorf("malformed catalog strengths: %w", err)
		}
		strengths = extra[strengthsField]
	}

	meds := make([]domain.Medicine, 0, len(names))
	for i, name := range names {
		m := domain.Medicine{Name: name, Strengths: domain.StringList{}, Routes: domain.StringList{}}
		if i < len(strengths) && strengths[i] != nil {
			m.Strengths = domain.StringList(strengths[i])
		}
		meds = append(meds, m)
	}
	return meds, nil
}
