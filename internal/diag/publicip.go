// Package diag holds user-facing diagnostics. Nothing here is required
// for route correctness.
package diag

import (
	"context"
	"errors"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	ipLookupURL     = "https://api.ipify.org"
	ipLookupTimeout = 5 * time.Second
)

type ipResponse struct {
	IP string `json:"ip"`
}

// PublicIP looks up the current egress address. Used to confirm a route
// actually changed the egress IP.
func PublicIP(ctx context.Context) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, ipLookupTimeout)
	defer cancel()

	var result ipResponse
	resp, err := resty.New().R().
		SetContext(reqCtx).
		SetQueryParam("format", "json").
		SetResult(&result).
		Get(ipLookupURL)
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", errors.New(resp.Status())
	}
	if result.IP == "" {
		return "", errors.New("empty lookup response")
	}
	return result.IP, nil
}
