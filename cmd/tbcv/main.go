// Package main implements the tbcv CLI for manual operations against the
// tbcvd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the tbcvd HTTP server
	serverURL string
	// outputJSON switches list/show commands to raw JSON output
	outputJSON bool
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tbcv",
	Short: "CLI for tbcvd content validation operations",
	Long: `tbcv is a command-line interface for interacting with the tbcvd HTTP server.
It provides commands for running validation workflows, controlling their
execution, managing checkpoints, and reviewing enhancement recommendations.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9340", "tbcvd server URL")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check tbcvd server health",
	Long: `Check the health status of the tbcvd HTTP server.

Examples:
  # Check health
  tbcv health

  # Check health on a different server
  tbcv health --server http://localhost:8080`,
	RunE: runHealth,
}

// HealthResponse matches internal/http/types.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	var resp HealthResponse
	if err := getJSON("/health", &resp); err != nil {
		return err
	}

	fmt.Printf("Server Status: %s\n", resp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

// Helper functions

var httpClient = &http.Client{Timeout: 30 * time.Second}

// getJSON performs a GET against the server and decodes the JSON response
// into out.
func getJSON(path string, out any) error {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// postJSON performs a POST with an optional JSON body and decodes the JSON
// response into out when out is non-nil.
func postJSON(path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(http.MethodPost, serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", serverURL+path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
