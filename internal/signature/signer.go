// Package signature provides the URL signer and the msToken source used to
// impersonate a browser session upstream.
package signature

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Signer turns an endpoint and its query string into a signed URL.
type Signer interface {
	Sign(ctx context.Context, endpoint, cookie, query string) (string, error)
}

// UnsignedURL is the fallback used when signing fails.
func UnsignedURL(endpoint, query string) string {
	if query == "" {
		return endpoint
	}
	return endpoint + "?" + query
}

// LocalSigner appends a fixed a_bogus value without contacting any service.
type LocalSigner struct {
	ABogus string
}

// NewLocalSigner creates a LocalSigner.
func NewLocalSigner(aBogus string) *LocalSigner {
	return &LocalSigner{ABogus: aBogus}
}

// Sign implements Signer. Parameters keep their order; pairs without a key are dropped.
func (s *LocalSigner) Sign(_ context.Context, endpoint, _ string, query string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q is not absolute", endpoint)
	}

	pairs := make([]string, 0, strings.Count(query, "&")+2)
	for _, pair := range strings.Split(query, "&") {
		if idx := strings.Index(pair, "="); idx > 0 {
			pairs = append(pairs, pair)
		}
	}
	pairs = append(pairs, "a_bogus="+url.QueryEscape(s.ABogus))
	u.RawQuery = strings.Join(pairs, "&")
	return u.String(), nil
}

// RemoteSigner delegates signing to an HTTP signature service.
type RemoteSigner struct {
	serviceURL string
	client     *http.Client
	logger     *logrus.Entry
}

type remoteSignRequest struct {
	URL    string `json:"url"`
	Cookie string `json:"cookie"`
	Params string `json:"params"`
}

type remoteSignResponse struct {
	Success   bool   `json:"success"`
	SignedURL string `json:"signed_url"`
	ABogus    string `json:"a_bogus"`
	Error     string `json:"error"`
}

// NewRemoteSigner creates a RemoteSigner. A nil client gets a 10 second timeout.
func NewRemoteSigner(serviceURL string, client *http.Client) *RemoteSigner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteSigner{
		serviceURL: serviceURL,
		client:     client,
		logger:     logrus.WithField("component", "remote_signer"),
	}
}

// Sign implements Signer.
func (s *RemoteSigner) Sign(ctx context.Context, endpoint, cookie, query string) (string, error) {
	body, err := json.Marshal(remoteSignRequest{URL: endpoint, Cookie: cookie, Params: query})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serviceURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build signature request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call signature service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read signature response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signature service returned status %d", resp.StatusCode)
	}

	var out remoteSignResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode signature response: %w", err)
	}
	if !out.Success {
		if out.Error == "" {
			out.Error = "unknown error"
		}
		return "", errors.New("signature service: " + out.Error)
	}
	if out.SignedURL != "" {
		return out.SignedURL, nil
	}
	if out.ABogus != "" {
		return UnsignedURL(endpoint, query) + "&a_bogus=" + url.QueryEscape(out.ABogus), nil
	}
	return "", errors.New("signature service returned neither signed_url nor a_bogus")
}

// NewSigner picks the RemoteSigner when a service URL is configured.
func NewSigner(serviceURL, aBogus string) Signer {
	if serviceURL != "" {
		logrus.WithField("service_url", serviceURL).Info("Using remote signature service")
		return NewRemoteSigner(serviceURL, nil)
	}
	return NewLocalSigner(aBogus)
}
