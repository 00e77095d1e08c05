package deploy

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
)

const (
	healthAttempts = 5
	healthInterval = 10 * time.Second
)

// HTTPHealthProbe polls the service's /health endpoint until it answers 200
// or the attempts run out.
func HTTPHealthProbe(client *http.Client) func(ctx context.Context, url string) (time.Duration, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context, url string) (time.Duration, error) {
		healthURL := url + "/health"

		var lastErr error
		for attempt := 0; attempt < healthAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(healthInterval):
				case <-ctx.Done():
					return 0, ctx.Err()
				}
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
			if err != nil {
				return 0, err
			}
			start := time.Now()
			resp, err := client.Do(req)
			if err != nil {
				lastErr = err
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return time.Since(start), nil
			}
			lastErr = fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		}
		return 0, fmt.Errorf("health check failed after %d attempts: %w", healthAttempts, lastErr)
	}
}

// PostgresProbe opens the relational store with the pq driver and pings it.
func PostgresProbe(ctx context.Context, dsn string) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping relational store: %w", err)
	}
	return nil
}

// SimProbes always pass; the sim backend has nothing real to dial.
func SimProbes() Probes {
	return Probes{
		HTTPHealth: func(ctx context.Context, url string) (time.Duration, error) {
			return 5 * time.Millisecond, nil
		},
		Database: func(ctx context.Context, dsn string) error {
			return nil
		},
	}
}

// CloudProbes validate real endpoints.
func CloudProbes() Probes {
	return Probes{
		HTTPHealth: HTTPHealthProbe(nil),
		Database:   PostgresProbe,
	}
}

// randomToken returns a URL-safe random string of n bytes of entropy.
func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
