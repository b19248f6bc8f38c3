package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/koinonia/draftsafe/draft"
	"github.com/rs/zerolog"
)

// DefaultBeaconTimeout bounds a single beacon delivery.
const DefaultBeaconTimeout = 5 * time.Second

// Beacon posts teardown payloads to the server in the background.  The
// caller never learns whether a delivery succeeded; Drain only waits for
// deliveries to finish.
type Beacon struct {
	client  *Client
	timeout time.Duration
	wg      sync.WaitGroup
	log     zerolog.Logger
}

func NewBeacon(c *Client) *Beacon {
	return &Beacon{client: c, timeout: DefaultBeaconTimeout, log: c.log}
}

// WithTimeout sets the per-delivery timeout.
func (b *Beacon) WithTimeout(d time.Duration) *Beacon {
	if d > 0 {
		b.timeout = d
	}
	return b
}

func encodeBeacon(req draft.BeaconRequest) ([]byte, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Send queues req for delivery and returns at once.  It reports false if
// the request could not even be encoded.
func (b *Beacon) Send(req draft.BeaconRequest) bool {
	body, err := encodeBeacon(req)
	if err != nil {
		b.log.Error().Err(err).Msg("encoding beacon")
		return false
	}
	b.wg.Add(1)
	go b.deliver(body)
	return true
}

func (b *Beacon) deliver(body []byte) {
	defer b.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.client.endpoint(draft.BasePath+"/beacon", nil), bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")

	resp, err := b.client.http.Do(req)
	if err != nil {
		b.log.Debug().Err(err).Msg("beacon not delivered")
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	b.log.Debug().Int("status", resp.StatusCode).Int("bytes", len(body)).Msg("beacon delivered")
}

// Drain waits for queued deliveries, or until ctx is done.
func (b *Beacon) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
