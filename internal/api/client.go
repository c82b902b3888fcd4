package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNotRunning means no control API answered on the configured address,
// i.e. no `up` process is around.
var ErrNotRunning = errors.New("no running route process")

// Client talks to the loopback control API of a running `up` process.
type Client struct {
	resty *resty.Client
}

func NewClient(addr string) *Client {
	return &Client{
		resty: resty.New().
			SetBaseURL("http://" + addr).
			SetTimeout(30 * time.Second),
	}
}

func (c *Client) Status(ctx context.Context) (StatusView, error) {
	var view StatusView
	err := c.get(ctx, "/api/status", &view)
	return view, err
}

func (c *Client) Circuit(ctx context.Context) (CircuitView, error) {
	var view CircuitView
	err := c.get(ctx, "/api/circuit", &view)
	return view, err
}

func (c *Client) Refresh(ctx context.Context) (StatusView, error) {
	return c.post(ctx, "/api/route/refresh", nil)
}

func (c *Client) Rotate(ctx context.Context, country string) (StatusView, error) {
	body := map[string]string{}
	if country != "" {
		body["country"] = country
	}
	return c.post(ctx, "/api/route/rotate", body)
}

func (c *Client) Stop(ctx context.Context) (StatusView, error) {
	return c.post(ctx, "/api/route/stop", nil)
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	resp, err := c.resty.R().
		SetContext(ctx).
		SetResult(dst).
		Get(path)
	if err != nil {
		return ErrNotRunning
	}
	return responseError(resp)
}

func (c *Client) post(ctx context.Context, path string, body any) (StatusView, error) {
	var view StatusView
	req := c.resty.R().
		SetContext(ctx).
		SetResult(&view)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err != nil {
		return StatusView{}, ErrNotRunning
	}
	if err := responseError(resp); err != nil {
		return StatusView{}, err
	}
	return view, nil
}

func responseError(resp *resty.Response) error {
	if resp.StatusCode() == http.StatusNotFound {
		return errors.New("no active circuit")
	}
	if resp.IsError() {
		return errors.New(resp.String())
	}
	return nil
}
