package health

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"time"
)

// StreamCheck connects to an event stream endpoint and verifies that it
// answers 200 with a text/event-stream body. The body is never read.
func StreamCheck(url string, timeout time.Duration) Check {
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "text/event-stream")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		// Cancel before Close so the server sees the stream go away.
		defer resp.Body.Close()
		defer cancel()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy status: %d", resp.StatusCode)
		}
		mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
		if mediaType != "text/event-stream" {
			return fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
		}

		return nil
	}
}

// CustomCheck runs checkFunc, giving up when ctx ends
func CustomCheck(checkFunc func() error) Check {
	return func(ctx context.Context) error {
		done := make(chan error, 1)
		go func() {
			done <- checkFunc()
		}()

		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return fmt.Errorf("check timeout: %w", ctx.Err())
		}
	}
}
