// Command brokerctl is a thin operator CLI around the broker's HTTP
// surface: connect (prints the provider redirect URL), refresh (forces
// getFreshCredentials for one connection), and sweep (triggers an
// out-of-band expired-session sweep). Exit codes per spec §6: 0 success,
// 1 generic failure, 2 bad arguments.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitBadUsage = 2
)

type client struct {
	BaseURL string
	HTTP    *http.Client
}

func (c *client) do(method, path string) (int, []byte, error) {
	req, err := http.NewRequest(method, strings.TrimRight(c.BaseURL, "/")+path, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, nil
}

func printJSON(body []byte) {
	var v any
	if json.Unmarshal(body, &v) == nil {
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(pretty))
		return
	}
	fmt.Println(string(body))
}

func main() {
	os.Exit(run())
}

func run() int {
	baseURL := envOr("BROKERCTL_URL", "http://localhost:8080")
	cl := &client{HTTP: &http.Client{Timeout: 30 * time.Second}}

	root := &cobra.Command{
		Use:           "brokerctl",
		Short:         "operator CLI for the authorization broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "broker base URL (env BROKERCTL_URL)")

	var (
		connectProviderConfigKey string
		connectConnectionID      string
	)
	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "print the redirect URL for a redirect-based provider config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if connectProviderConfigKey == "" {
				return usageError{"--provider-config-key is required"}
			}
			path := fmt.Sprintf("/oauth/connect/%s", connectProviderConfigKey)
			if connectConnectionID != "" {
				path += "?connection_id=" + connectConnectionID
			}
			req, err := http.NewRequest(http.MethodGet, strings.TrimRight(baseURL, "/")+path, nil)
			if err != nil {
				return err
			}
			noRedirect := &http.Client{
				Timeout: 30 * time.Second,
				CheckRedirect: func(*http.Request, []*http.Request) error {
					return http.ErrUseLastResponse
				},
			}
			resp, err := noRedirect.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if loc := resp.Header.Get("Location"); loc != "" {
				fmt.Println(loc)
				return nil
			}
			body, _ := io.ReadAll(resp.Body)
			printJSON(body)
			if resp.StatusCode/100 != 2 {
				return fmt.Errorf("connect failed: status=%d", resp.StatusCode)
			}
			return nil
		},
	}
	connectCmd.Flags().StringVar(&connectProviderConfigKey, "provider-config-key", "", "tenant's provider config key")
	connectCmd.Flags().StringVar(&connectConnectionID, "connection-id", "", "connection id to bind the session to")

	var (
		refreshProviderConfigKey string
		refreshConnectionID      string
	)
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "fetch a connection's credentials, refreshing them if they are due",
		RunE: func(cmd *cobra.Command, args []string) error {
			if refreshProviderConfigKey == "" || refreshConnectionID == "" {
				return usageError{"--provider-config-key and --connection-id are required"}
			}
			cl.BaseURL = baseURL
			status, body, err := cl.do(http.MethodPost, fmt.Sprintf("/admin/connections/%s/%s/refresh", refreshProviderConfigKey, refreshConnectionID))
			if err != nil {
				return err
			}
			printJSON(body)
			if status/100 != 2 {
				return fmt.Errorf("refresh failed: status=%d", status)
			}
			return nil
		},
	}
	refreshCmd.Flags().StringVar(&refreshProviderConfigKey, "provider-config-key", "", "tenant's provider config key")
	refreshCmd.Flags().StringVar(&refreshConnectionID, "connection-id", "", "connection id to refresh")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "trigger an out-of-band expired-session sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl.BaseURL = baseURL
			status, body, err := cl.do(http.MethodPost, "/admin/sweep")
			if err != nil {
				return err
			}
			printJSON(body)
			if status/100 != 2 {
				return fmt.Errorf("sweep failed: status=%d", status)
			}
			return nil
		},
	}

	root.AddCommand(connectCmd, refreshCmd, sweepCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		var ue usageError
		if asUsageError(err, &ue) {
			return exitBadUsage
		}
		return exitFailure
	}
	return exitOK
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func asUsageError(err error, target *usageError) bool {
	if ue, ok := err.(usageError); ok {
		*target = ue
		return true
	}
	return false
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
