package occupancy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"parking-status-backend/config"
)

// FeedItem is one slot reading from the upstream sensor feed.
type FeedItem struct {
	ID       int64 `json:"id"`
	Occupied bool  `json:"occupied"`
}

// FeedResponse models the upstream feed's paged response.
type FeedResponse struct {
	Code int `json:"code"`
	Data struct {
		Page     int        `json:"page"`
		PageSize int        `json:"pageSize"`
		Total    int        `json:"total"`
		Items    []FeedItem `json:"items"`
	} `json:"data"`
}

// Applier is what the poller feeds readings into.
type Applier interface {
	Apply(ctx context.Context, toggles []Toggle) []ToggleResult
}

// Poller periodically pulls slot occupancy from an upstream HTTP feed and
// pushes it through the reconciler.
type Poller struct {
	cfg     config.SensorConfig
	applier Applier
	client  *http.Client
	log     *zerolog.Logger
}

func NewPoller(cfg config.SensorConfig, applier Applier, log *zerolog.Logger) *Poller {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.HTTPProxy)
		if err != nil {
			log.Warn().Err(err).Str("proxy", cfg.HTTPProxy).Msg("invalid proxy URL, sensor poller will not use a proxy")
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	return &Poller{
		cfg:     cfg,
		applier: applier,
		client:  &http.Client{Transport: transport, Timeout: 30 * time.Second},
		log:     log,
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	if !p.cfg.Enabled {
		p.log.Info().Msg("sensor poller is disabled")
		return
	}
	p.log.Info().Str("url", p.cfg.URL).Dur("interval", p.cfg.Interval).Msg("starting sensor poller")

	p.PollOnce(ctx)

	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("sensor poller shutting down")
			return
		case <-timer.C:
			p.PollOnce(ctx)
			timer.Reset(p.cfg.Interval)
		}
	}
}

// PollOnce fetches every page and applies the readings. It returns the
// number of toggles applied.
func (p *Poller) PollOnce(ctx context.Context) int {
	var items []FeedItem
	total := 1
	pageSize := p.cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	var fetchErr error
	for page := 1; (page-1)*pageSize < total; page++ {
		resp, err := p.fetchPage(ctx, page, pageSize)
		if err != nil {
			p.log.Error().Err(err).Int("page", page).Msg("failed to fetch sensor page")
			fetchErr = err
			break
		}
		if resp.Data.Total == 0 || len(resp.Data.Items) == 0 {
			break
		}
		total = resp.Data.Total
		items = append(items, resp.Data.Items...)
	}

	// A failed fetch with nothing retrieved must not look like "all free".
	if fetchErr != nil && len(items) == 0 {
		p.log.Warn().Msg("sensor poll aborted, no readings retrieved")
		return 0
	}

	toggles := make([]Toggle, 0, len(items))
	for _, it := range items {
		if it.ID <= 0 {
			continue
		}
		toggles = append(toggles, Toggle{SlotID: it.ID, Occupied: it.Occupied})
	}
	if len(toggles) == 0 {
		return 0
	}

	failed := 0
	for _, res := range p.applier.Apply(ctx, toggles) {
		if !res.OK {
			failed++
			p.log.Warn().Int64("slot_id", res.SlotID).Str("kind", string(res.Kind)).Str("message", res.Message).Msg("sensor reading rejected")
		}
	}
	p.log.Debug().Int("readings", len(toggles)).Int("failed", failed).Msg("sensor poll finished")
	return len(toggles)
}

func (p *Poller) fetchPage(ctx context.Context, page, pageSize int) (*FeedResponse, error) {
	jsonBody, err := json.Marshal(map[string]int{"page": page, "pageSize": pageSize})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range p.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var feed FeedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feed response: %w", err)
	}
	if feed.Code != 0 {
		return nil, fmt.Errorf("feed returned non-zero application code: %d", feed.Code)
	}
	return &feed, nil
}
