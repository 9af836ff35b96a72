package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sushiibot/modledger/util"

	"github.com/carlmjohnson/versioninfo"
)

type RequestType int

const (
	Query = RequestType(iota)
	Procedure
)

// Client speaks JSON over HTTP to the gateway sidecar, which holds the platform session.
type Client struct {
	// Client is an HTTP client to use. If not set, defaults to util.RobustHTTPClient().
	Client    *http.Client
	Host      string
	Token     string
	UserAgent *string
}

func (c *Client) getClient() *http.Client {
	if c.Client == nil {
		return util.RobustHTTPClient()
	}
	return c.Client
}

// GatewayError is the error body returned by the sidecar.
type GatewayError struct {
	ErrStr              string   `json:"error"`
	Message             string   `json:"message"`
	RequiredPermissions []string `json:"required_permissions,omitempty"`
}

func (ge *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", ge.ErrStr, ge.Message)
}

// Error is any non-200 response.
type Error struct {
	StatusCode int
	Wrapped    error
	Ratelimit  *RatelimitInfo
}

func (e *Error) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("gateway error %d", e.StatusCode)
	}
	if e.IsThrottled() && e.Ratelimit != nil {
		return fmt.Sprintf("gateway error %d: %s (throttled until %s)", e.StatusCode, e.Wrapped, e.Ratelimit.Reset.Local())
	}
	return fmt.Sprintf("gateway error %d: %s", e.StatusCode, e.Wrapped)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

func (e *Error) IsThrottled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

type RatelimitInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

func errorFromHTTPResponse(resp *http.Response, err error) *Error {
	r := &Error{
		StatusCode: resp.StatusCode,
		Wrapped:    err,
	}
	if resp.Header.Get("ratelimit-limit") != "" {
		r.Ratelimit = &RatelimitInfo{}
		if n, err := strconv.ParseInt(resp.Header.Get("ratelimit-reset"), 10, 64); err == nil {
			r.Ratelimit.Reset = time.Unix(n, 0)
		}
		if n, err := strconv.ParseInt(resp.Header.Get("ratelimit-limit"), 10, 64); err == nil {
			r.Ratelimit.Limit = int(n)
		}
		if n, err := strconv.ParseInt(resp.Header.Get("ratelimit-remaining"), 10, 64); err == nil {
			r.Ratelimit.Remaining = int(n)
		}
	}
	return r
}

func makeParams(p map[string]any) string {
	params := url.Values{}
	for k, v := range p {
		params.Add(k, fmt.Sprint(v))
	}
	return params.Encode()
}

// Do calls a sidecar method. Queries are sent as GET with params in the query string, procedures as POST with a JSON body.
func (c *Client) Do(ctx context.Context, kind RequestType, method string, params map[string]any, bodyobj any, out any) error {
	var body io.Reader
	if bodyobj != nil {
		b, err := json.Marshal(bodyobj)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	var m string
	switch kind {
	case Query:
		m = http.MethodGet
	case Procedure:
		m = http.MethodPost
	default:
		return fmt.Errorf("unsupported request kind: %d", kind)
	}

	var paramStr string
	if len(params) > 0 {
		paramStr = "?" + makeParams(params)
	}
	uri := strings.TrimSuffix(c.Host, "/") + "/v1/" + method + paramStr

	req, err := http.NewRequestWithContext(ctx, m, uri, body)
	if err != nil {
		return err
	}
	if bodyobj != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserAgent != nil {
		req.Header.Set("User-Agent", *c.UserAgent)
	} else {
		req.Header.Set("User-Agent", "modledger/"+versioninfo.Short())
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.getClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var ge GatewayError
		if err := json.NewDecoder(resp.Body).Decode(&ge); err != nil {
			return errorFromHTTPResponse(resp, fmt.Errorf("failed to decode gateway error message: %w", err))
		}
		return errorFromHTTPResponse(resp, &ge)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding gateway response: %w", err)
		}
	}
	return nil
}
