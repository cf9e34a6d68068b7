package doubao

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	app_errors "doubao-api/internal/errors"
	"doubao-api/internal/utils"

	"github.com/sirupsen/logrus"
)

// maxErrorBodyLength bounds the upstream body kept in an UpstreamStatusError.
const maxErrorBodyLength = 512

// Request is one upstream completion call.
type Request struct {
	URL    string
	Cookie string
	Body   []byte
}

// Client sends completion requests upstream.
type Client struct {
	userAgent string
	buffered  *http.Client
	streaming *http.Client
	logger    *logrus.Entry
}

// NewClient creates a Client. Buffered calls are capped by requestTimeout; streaming
// calls are bounded only by their context.
func NewClient(userAgent string, requestTimeout time.Duration) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: requestTimeout,
		// the body is decoded by utils.DecompressReader
		DisableCompression: true,
	}
	return &Client{
		userAgent: userAgent,
		buffered:  &http.Client{Transport: transport, Timeout: requestTimeout},
		streaming: &http.Client{Transport: transport},
		logger:    logrus.WithField("component", "doubao_client"),
	}
}

// Send posts the request. For streaming calls the returned body is read
// incrementally; otherwise it is fully buffered before Send returns.
// Any status other than 200 yields an *UpstreamStatusError.
func (c *Client) Send(ctx context.Context, r *Request, streaming bool) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	SetBrowserHeaders(req.Header, r.Cookie, c.userAgent)
	req.Header.Set("Accept-Encoding", utils.AcceptEncoding)

	httpClient := c.buffered
	if streaming {
		httpClient = c.streaming
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		body := utils.DecompressBytes(resp.Header.Get("Content-Encoding"), raw)
		c.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   utils.TruncateString(string(body), maxErrorBodyLength),
		}).Warn("Upstream returned non-success status")
		return nil, &app_errors.UpstreamStatusError{
			StatusCode: resp.StatusCode,
			Body:       utils.TruncateString(string(body), maxErrorBodyLength),
		}
	}

	body, err := utils.DecompressReader(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	if streaming {
		return body, nil
	}

	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, &app_errors.StreamIOError{Err: err}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
