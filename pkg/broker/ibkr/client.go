package ibkr

import (
	"bytes"
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
	// DefaultGatewayURL is the local Client Portal gateway endpoint.
	DefaultGatewayURL = "https://localhost:5000/v1/api"

	UserAgent = "apex/1.0"

	defaultHTTPTimeout = 15 * time.Second
)

type RestClient struct {
	client *http.Client

	BaseURL *url.URL

	// the gateway throttles around 10 requests per second
	limiter *rate.Limiter
}

func NewRestClient(baseURL string) *RestClient {
	u, err := url.Parse(baseURL)
	if err != nil {
		panic(err)
	}

	return &RestClient{
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		BaseURL: u,
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
	}
}

func (c *RestClient) newRequest(ctx context.Context, method, refURL string, params url.Values, payload interface{}) (*http.Request, error) {
	rel, err := url.Parse(refURL)
	if err != nil {
		return nil, err
	}

	if params != nil {
		rel.RawQuery = params.Encode()
	}

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request payload")
		}
	}

	u := c.BaseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Add("User-Agent", UserAgent)
	req.Header.Add("Content-Type", "application/json")
	return req, nil
}

func (c *RestClient) sendRequest(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, errors.Wrap(types.ErrBrokerUnavailable, err.Error())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(types.ErrBrokerUnavailable, err.Error())
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, errors.Wrap(types.ErrBrokerUnavailable, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, toTaxonomyError(resp.StatusCode, body)
	}

	return body, nil
}

// toTaxonomyError maps a gateway error response onto the broker error
// taxonomy. The gateway reports an expired brokerage session as 401.
func toTaxonomyError(statusCode int, body []byte) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)

	msg := apiErr.Error
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

	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return errors.Wrap(types.ErrInvalidRequest, msg)

	case statusCode >= 500:
		return errors.Wrap(types.ErrBrokerUnavailable, msg)
	}

	return errors.Wrapf(types.ErrBrokerUnavailable, "unexpected status %d: %s", statusCode, msg)
}
