package alpaca

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
	// PaperAPIURL is the official paper trading endpoint.
	PaperAPIURL = "https://paper-api.alpaca.markets"

	// ProductionAPIURL is the live trading endpoint.
	ProductionAPIURL = "https://api.alpaca.markets"

	UserAgent = "apex/1.0"

	defaultHTTPTimeout = 15 * time.Second
)

// Response wraps the standard http.Response with the drained body.
type Response struct {
	*http.Response

	// Body overrides the composited Body field.
	Body []byte
}

func newResponse(r *http.Response) (*Response, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	err = r.Body.Close()
	return &Response{Response: r, Body: body}, err
}

func (r *Response) DecodeJSON(o interface{}) error {
	return json.Unmarshal(r.Body, o)
}

type RestClient struct {
	client *http.Client

	BaseURL *url.URL

	// Authentication
	APIKey    string
	APISecret string

	// Alpaca allows 200 requests per minute per key; stay under it so bursts
	// of UI traffic do not trip the broker side limiter.
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
		limiter: rate.NewLimiter(rate.Every(350*time.Millisecond), 10),
	}
}

// Auth sets the api key and secret used on every request.
func (c *RestClient) Auth(key, secret string) *RestClient {
	c.APIKey = key
	c.APISecret = secret
	return c
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
	req.Header.Add("Accept", "application/json")
	req.Header.Add("APCA-API-KEY-ID", c.APIKey)
	req.Header.Add("APCA-API-SECRET-KEY", c.APISecret)
	return req, nil
}

// sendRequest sends the request and translates failures into the broker
// error taxonomy. Transport errors and deadline hits become
// ErrBrokerUnavailable; the caller decides whether to retry.
func (c *RestClient) sendRequest(req *http.Request) (*Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, errors.Wrap(types.ErrBrokerUnavailable, err.Error())
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(types.ErrBrokerUnavailable, err.Error())
	}

	response, err := newResponse(resp)
	if err != nil {
		return response, errors.Wrap(types.ErrBrokerUnavailable, err.Error())
	}

	if isError(response) {
		return response, toTaxonomyError(response)
	}

	return response, nil
}

func isError(response *Response) bool {
	c := response.StatusCode
	return c < 200 || c > 299
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// toTaxonomyError maps an HTTP error response onto the fixed broker error
// taxonomy, keeping the broker message as wrap context.
func toTaxonomyError(response *Response) error {
	var apiErr apiError
	_ = json.Unmarshal(response.Body, &apiErr)

	msg := apiErr.Message
	if msg == "" {
		msg = string(response.Body)
	}

	switch code := response.StatusCode; {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.Wrap(types.ErrAuth, msg)

	case code == http.StatusNotFound:
		return errors.Wrap(types.ErrNotFound, msg)

	case code == http.StatusTooManyRequests:
		return errors.Wrap(types.ErrRateLimited, msg)

	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return errors.Wrap(types.ErrInvalidRequest, msg)

	case code >= 500:
		return errors.Wrap(types.ErrBrokerUnavailable, msg)
	}

	return errors.Wrapf(types.ErrBrokerUnavailable, "unexpected status %d: %s", response.StatusCode, msg)
}
