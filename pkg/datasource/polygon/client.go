package polygon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/apexhq/apex/pkg/types"
)

const (
	RestBaseURL      = "https://api.polygon.io"
	WebsocketBaseURL = "wss://socket.polygon.io/stocks"

	defaultHTTPTimeout = 15 * time.Second
)

type RestClient struct {
	client *http.Client

	BaseURL *url.URL
	apiKey  string

	// the free tier allows 5 requests per minute; paid tiers are looser but
	// the limiter still smooths bursts
	limiter *rate.Limiter
}

func NewRestClient(baseURL, apiKey string) *RestClient {
	if baseURL == "" {
		baseURL = RestBaseURL
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		panic(err)
	}

	return &RestClient{
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		BaseURL: u,
		apiKey:  apiKey,
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
	}
}

func (c *RestClient) get(ctx context.Context, refURL string, params url.Values, result interface{}) error {
	rel, err := url.Parse(refURL)
	if err != nil {
		return err
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("apiKey", c.apiKey)
	rel.RawQuery = params.Encode()

	u := c.BaseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(types.ErrBrokerUnavailable, err.Error())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(types.ErrBrokerUnavailable, err.Error())
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return errors.Wrap(types.ErrBrokerUnavailable, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return toTaxonomyError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return errors.Wrapf(err, "failed to decode polygon response: %s", string(body))
	}

	return nil
}

func toTaxonomyError(statusCode int, body []byte) error {
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &apiErr)

	msg := apiErr.Error
	if msg == "" {
		msg = apiErr.Message
	}
	if msg == "" {
		msg = string(body)
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return errors.Wrap(types.ErrAuth, msg)

	case statusCode == http.StatusNotFound:
		return errors.Wrap(types.ErrNotFound, msg)

	case statusCode == http.StatusTooManyRequests:
		return errors.Wrap(types.ErrRateLimited, msg)

	case statusCode == http.StatusBadRequest:
		return errors.Wrap(types.ErrInvalidRequest, msg)
	}

	return errors.Wrapf(types.ErrBrokerUnavailable, "unexpected status %d: %s", statusCode, msg)
}
