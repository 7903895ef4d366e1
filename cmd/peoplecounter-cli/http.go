package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	goahttp "goa.design/goa/v3/http"
)

// apiError mirrors the error body returned by the API
type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// client issues requests against a running peoplecounter API
type client struct {
	base  string
	token string
	doer  goahttp.Doer
}

func newClient(base, token string, timeout int, debug bool) *client {
	var (
		doer goahttp.Doer
	)
	{
		doer = &http.Client{Timeout: time.Duration(timeout) * time.Second}
		if debug {
			doer = goahttp.NewDebugDoer(doer)
		}
	}
	return &client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		doer:  doer,
	}
}

// do sends a request with an optional JSON body and decodes the JSON
// response into out
func (c *client) do(ctx context.Context, verb, path string, body, out any) error {
	req, err := http.NewRequestWithContext(ctx, verb, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		if err := goahttp.RequestEncoder(req).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", verb, path, err)
	}
	defer resp.Body.Close()
	if d, ok := c.doer.(goahttp.DebugDoer); ok {
		d.Fprint(os.Stderr)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var e apiError
		if err := goahttp.ResponseDecoder(resp).Decode(&e); err != nil {
			return fmt.Errorf("%s %s: %s", verb, path, resp.Status)
		}
		return fmt.Errorf("%s %s: %s: %s", verb, path, resp.Status, e.Message)
	}
	return goahttp.ResponseDecoder(resp).Decode(out)
}
