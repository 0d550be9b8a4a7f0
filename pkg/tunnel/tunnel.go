// Package tunnel supervises an ngrok agent that exposes the relay's local
// listen port on a public URL. The tunnel is strictly optional: the relay
// serves locally whether or not the agent comes up.
package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

const publicURLWaitTimeout = 15 * time.Second

// Tunnel is a running ngrok agent together with the public URL it reported.
type Tunnel struct {
	PublicURL string

	cmd        *exec.Cmd
	inspectURL string
}

// Start launches the agent for listenAddr's port and polls the agent's local
// inspection API until it reports a public URL. The agent is torn down again
// if no URL appears in time.
func Start(ctx context.Context, binary, listenAddr, inspectAddr string) (*Tunnel, error) {
	port := listenPort(listenAddr)
	if port == "" {
		return nil, fmt.Errorf("cannot derive port from listen address %q", listenAddr)
	}

	cmd := exec.Command(binary, "http", port)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	t := &Tunnel{
		cmd:        cmd,
		inspectURL: "http://" + inspectAddr + "/api/tunnels",
	}
	publicURL, err := t.waitForPublicURL(ctx)
	if err != nil {
		_ = t.Stop()
		return nil, err
	}
	t.PublicURL = publicURL
	return t, nil
}

// Stop terminates the agent process. Safe on a nil tunnel.
func (t *Tunnel) Stop() error {
	if t == nil || t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	if err := t.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill tunnel agent: %w", err)
	}
	_ = t.cmd.Wait()
	return nil
}

func (t *Tunnel) waitForPublicURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, publicURLWaitTimeout)
	defer cancel()

	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if url, err := t.queryPublicURL(ctx, client); err == nil {
			return url, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("tunnel public url did not appear: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (t *Tunnel) queryPublicURL(ctx context.Context, client *http.Client) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.inspectURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return parsePublicURL(b)
}

// parsePublicURL extracts the first tunnel's public_url from an inspection
// API response.
func parsePublicURL(body []byte) (string, error) {
	var payload struct {
		Tunnels []struct {
			PublicURL string `json:"public_url"`
		} `json:"tunnels"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("parse tunnels response: %w", err)
	}
	for _, tun := range payload.Tunnels {
		if u := strings.TrimSpace(tun.PublicURL); u != "" {
			return u, nil
		}
	}
	return "", errors.New("no tunnel with a public url yet")
}

func listenPort(listenAddr string) string {
	_, port, err := net.SplitHostPort(strings.TrimSpace(listenAddr))
	if err != nil {
		return ""
	}
	return port
}
