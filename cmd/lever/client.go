package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	clientAddr     string
	clientBusiness string
	clientUser     string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&clientAddr, "addr", "http://127.0.0.1:8090", "Engine API address")
	rootCmd.PersistentFlags().StringVar(&clientBusiness, "business", "", "Tenant business ID")
	rootCmd.PersistentFlags().StringVar(&clientUser, "user", "", "Session user ID")
}

// apiClient is a thin client for the engine's HTTP API.
type apiClient struct {
	addr     string
	business string
	user     string
	http     *http.Client
}

func newAPIClient() (*apiClient, error) {
	if clientBusiness == "" || clientUser == "" {
		return nil, fmt.Errorf("--business and --user are required")
	}
	return &apiClient{
		addr:     strings.TrimSuffix(clientAddr, "/"),
		business: clientBusiness,
		user:     clientUser,
		http:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// do sends a request and decodes the JSON response into out. Non-2xx
// responses become errors carrying the server's message.
func (c *apiClient) do(method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequest(method, c.addr+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Business-ID", c.business)
	req.Header.Set("X-User-ID", c.user)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// parseKeyValues converts key=value arguments into a map. Values that
// parse as JSON are kept structured; everything else stays a string.
func parseKeyValues(args []string) (map[string]any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	data := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			data[key] = parsed
		} else {
			data[key] = value
		}
	}
	return data, nil
}
