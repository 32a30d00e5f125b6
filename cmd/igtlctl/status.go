package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/danmuck/igtlctl/internal/connector"
)

var errBadOutput = errors.New("output must be one of table, json, yaml")

type connectorsResponse struct {
	Connectors []connector.Status `json:"connectors" yaml:"connectors"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connector state from a running igtlctl serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			admin, _ := cmd.Flags().GetString("admin")
			token, _ := cmd.Flags().GetString("token")
			output, _ := cmd.Flags().GetString("output")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			switch output {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("%w: %q", errBadOutput, output)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			resp, err := fetchConnectors(ctx, admin, token)
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), output, resp)
		},
	}
	cmd.Flags().String("admin", "http://127.0.0.1:18945", "admin API base URL")
	cmd.Flags().String("token", "", "bearer token when the admin API requires one")
	cmd.Flags().StringP("output", "o", "table", "output format: table, json, yaml")
	cmd.Flags().Duration("timeout", 5*time.Second, "request timeout")
	return cmd
}

func fetchConnectors(ctx context.Context, base, token string) (connectorsResponse, error) {
	url := strings.TrimRight(strings.TrimSpace(base), "/") + "/connectors"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return connectorsResponse{}, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return connectorsResponse{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return connectorsResponse{}, err
	}
	if res.StatusCode != http.StatusOK {
		return connectorsResponse{}, fmt.Errorf("admin %s: %s: %s", url, res.Status, strings.TrimSpace(string(body)))
	}
	var out connectorsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return connectorsResponse{}, fmt.Errorf("admin %s: decode: %w", url, err)
	}
	return out, nil
}

func writeStatus(w io.Writer, format string, resp connectorsResponse) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "yaml":
		out, err := yaml.Marshal(resp)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CONNECTOR\tROLE\tSTATE\tADDR\tDEVICES\tPUSHES\tPULLS\tOVERWRITES")
	for _, st := range resp.Connectors {
		var pushes, pulls, overwrites uint64
		for _, d := range st.Devices {
			pushes += d.Stats.Pushes
			pulls += d.Stats.Pulls
			overwrites += d.Stats.Overwrites
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			st.Name, st.Role, st.State, st.Addr, len(st.Devices), pushes, pulls, overwrites)
	}
	return tw.Flush()
}
