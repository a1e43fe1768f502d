package device

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ivanzxc/go-glucose-stream/internal/sensor"
)

// HTTPSource polls a WiFi board that serves its latest reading as JSON on
// GET <url>, e.g. http://192.168.4.1/data.
type HTTPSource struct {
	URL    string
	Every  time.Duration
	Client *http.Client
}

func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:    url,
		Every:  time.Second,
		Client: &http.Client{Timeout: 2 * time.Second},
	}
}

func (h *HTTPSource) Fetch(ctx context.Context) (sensor.Reading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return sensor.Reading{}, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return sensor.Reading{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return sensor.Reading{}, fmt.Errorf("device: %s returned %s", h.URL, resp.Status)
	}
	var r sensor.Reading
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return sensor.Reading{}, fmt.Errorf("device: decode %s: %w", h.URL, err)
	}
	return r, nil
}

// Run fetches on every interval and puts good readings into dst. Failed
// fetches are reported through onErr and skipped; there is no backoff.
func (h *HTTPSource) Run(ctx context.Context, dst *sensor.Latest, onErr func(error)) error {
	every := h.Every
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		r, err := h.Fetch(ctx)
		switch {
		case err == nil:
			dst.Put(r)
		case ctx.Err() != nil:
			return ctx.Err()
		case onErr != nil:
			onErr(err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
