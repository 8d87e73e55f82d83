package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPProvider queries an ip-api compatible endpoint: GET {baseURL}/{ip}
// returning {"status","message","country","city"}.
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

type lookupResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Country string `json:"country"`
	City    string `json:"city"`
}

type loggingTransport struct {
	log *logrus.Entry
}

func NewHTTPProvider(logger *logrus.Logger, baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: &loggingTransport{log: logger.WithField("component", "geo_transport")},
		},
	}
}

func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (Location, error) {
	endpoint := p.baseURL + "/" + url.PathEscape(ip) + "?fields=status,message,country,city"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "TrafficGuard/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Location{}, fmt.Errorf("geo provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload); err != nil {
		return Location{}, fmt.Errorf("failed to decode geo response: %w", err)
	}
	if payload.Status != "" && payload.Status != "success" {
		return Location{}, fmt.Errorf("geo provider rejected %s: %s", ip, payload.Message)
	}

	return NewLocation(payload.Country, payload.City), nil
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := http.DefaultTransport.RoundTrip(req)
	if err != nil {
		log.WithError(err).Debug("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}
