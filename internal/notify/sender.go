package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Sender posts JSON payloads to webhook URLs. Timeouts and non-2xx
// responses are errors; the caller decides what to do with them.
type Sender struct {
	client *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Sender{
		client: &http.Client{Timeout: timeout},
	}
}

func (s *Sender) Send(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("error response: %s", resp.Status)
	}
	return nil
}
