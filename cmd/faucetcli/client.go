package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultTimeout covers a lease request waiting for its channel to become
// usable.
const defaultTimeout = 2 * time.Minute

// apiError is the body of a failed request.
type apiError struct {
	Error string `json:"error"`
}

// client talks to the faucet's HTTP API.
type client struct {
	server string
	http   *http.Client
}

func newClient(server string, timeout time.Duration) *client {
	return &client{
		server: strings.TrimSuffix(server, "/"),
		http:   &http.Client{Timeout: timeout},
	}
}

// do sends a request with an optional JSON body and decodes the JSON
// response into resp.
func (c *client) do(ctx context.Context, method, path string, body,
	resp interface{}) error {

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, c.server+path, reqBody,
	)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("unable to reach faucet: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		err := json.NewDecoder(res.Body).Decode(&apiErr)
		if err != nil || apiErr.Error == "" {
			return fmt.Errorf("faucet returned %v", res.Status)
		}

		return fmt.Errorf("faucet returned %v: %v", res.Status,
			apiErr.Error)
	}

	return json.NewDecoder(res.Body).Decode(resp)
}
