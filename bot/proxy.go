package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/socialbot/browser"
)

// ProxyChecker returns the public IP seen through the account's proxy.
type ProxyChecker func(ctx context.Context) (string, error)

// HTTPProxyChecker queries echoURL through p. The endpoint may answer
// {"ip": "..."} or the bare address.
func HTTPProxyChecker(echoURL string, p *browser.Proxy, timeout time.Duration) ProxyChecker {
	proxyURL := &url.URL{Scheme: "http", Host: p.Address}
	if p.Port > 0 {
		proxyURL.Host = net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
	}
	if p.Username != "" {
		proxyURL.User = url.UserPassword(p.Username, p.Password)
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyURL(proxyURL),
			MaxIdleConnsPerHost: 1,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, echoURL, nil)
		if err != nil {
			return "", fmt.Errorf("new request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("http get: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("http %d", resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		return parseEchoIP(body)
	}
}

func parseEchoIP(body []byte) (string, error) {
	s := strings.TrimSpace(string(body))
	var v struct {
		IP     string `json:"ip"`
		Origin string `json:"origin"`
	}
	if json.Unmarshal(body, &v) == nil {
		s = v.IP
		if s == "" {
			s = strings.TrimSpace(strings.Split(v.Origin, ",")[0])
		}
	}
	if net.ParseIP(s) == nil {
		return "", fmt.Errorf("echo: no IP address in %q", truncate(string(body), 80))
	}
	return s, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// verifyProxy runs the checker up to the configured attempts.
func (r *Runner) verifyProxy(ctx context.Context) error {
	attempts := r.cfg.Proxy.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		ip, err := r.proxyCheck(ctx)
		if err == nil {
			r.logger.Info("bot: proxy verified", "ip", ip, "attempt", i)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		r.logger.Warn("bot: proxy check failed", "attempt", i, "of", attempts, "error", err)
		if i < attempts {
			if err := r.sleeper.Sleep(ctx, 2*time.Second); err != nil {
				return err
			}
		}
	}
	r.logger.Error("IP Config verification failed", "attempts", attempts, "error", lastErr)
	return fmt.Errorf("%w: %w", ErrProxyVerification, lastErr)
}
