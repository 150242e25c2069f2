package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/registry"
	"github.com/spf13/cobra"
)

type providersOptions struct {
	server string
	json   bool
}

func newProvidersCmd() *cobra.Command {
	opts := &providersOptions{}
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List registered providers and their breaker state",
		Long: `List the providers of every capability domain in priority order.

Without --server the providers are built from the local config file and
every breaker is closed. With --server the live state of a running
reasond is shown.

Examples:
  # Providers the config file would register
  reasond providers

  # Live state of a running server
  reasond providers --server http://localhost:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rows []providerRow
			var err error
			if opts.server != "" {
				rows, err = fetchProviders(cmd.Context(), opts.server)
			} else {
				rows, err = localProviders(cmd.Context())
			}
			if err != nil {
				return err
			}
			if opts.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return printProviders(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", "", "reasond server URL to query")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print JSON")
	return cmd
}

// providerRow is one provider as printed by the providers command.
type providerRow struct {
	Domain       string   `json:"domain"`
	Name         string   `json:"name"`
	Priority     string   `json:"priority"`
	Capabilities []string `json:"capabilities"`
	State        string   `json:"state"`
	Failures     int      `json:"failure_count"`
}

func localProviders(ctx context.Context) ([]providerRow, error) {
	cfg, logger, err := loadConfig("error")
	if err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close(context.Background()) }()
	return rowsFromSnapshot(a.regs.Snapshot()), nil
}

func rowsFromSnapshot(snap map[registry.Domain][]registry.ProviderStatus) []providerRow {
	var rows []providerRow
	for domain, statuses := range snap {
		for _, s := range statuses {
			rows = append(rows, providerRow{
				Domain:       string(domain),
				Name:         s.Name,
				Priority:     s.Priority,
				Capabilities: s.Capabilities,
				State:        s.Breaker.State.String(),
				Failures:     s.Breaker.FailureCount,
			})
		}
	}
	sortRows(rows)
	return rows
}

// fetchProviders reads GET /api/v1/providers from a running server.
func fetchProviders(ctx context.Context, server string) ([]providerRow, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	url := strings.TrimRight(server, "/") + "/api/v1/providers"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var snap map[string][]struct {
		Name         string   `json:"name"`
		Priority     string   `json:"priority"`
		Capabilities []string `json:"capabilities"`
		Breaker      struct {
			State        string `json:"state"`
			FailureCount int    `json:"failure_count"`
		} `json:"breaker"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode providers: %w", err)
	}
	var rows []providerRow
	for domain, statuses := range snap {
		for _, s := range statuses {
			rows = append(rows, providerRow{
				Domain:       domain,
				Name:         s.Name,
				Priority:     s.Priority,
				Capabilities: s.Capabilities,
				State:        s.Breaker.State,
				Failures:     s.Breaker.FailureCount,
			})
		}
	}
	sortRows(rows)
	return rows, nil
}

// sortRows groups rows by domain, keeping each registry's own order.
func sortRows(rows []providerRow) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Domain < rows[j].Domain })
}

func printProviders(out io.Writer, rows []providerRow) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DOMAIN\tNAME\tPRIORITY\tSTATE\tFAILURES\tCAPABILITIES")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Domain, r.Name, r.Priority, r.State, r.Failures, strings.Join(r.Capabilities, ","))
	}
	return tw.Flush()
}
