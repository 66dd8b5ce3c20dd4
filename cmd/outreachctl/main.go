// Package main implements outreachctl, the operator CLI for an outreachd
// server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/outreachd/internal/client"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds the persistent flags shared by every command.
type app struct {
	serverURL string
	timeout   time.Duration
	jsonOut   bool
}

func (a *app) client() *client.Client {
	return client.New(a.serverURL, client.WithTimeout(a.timeout))
}

// print writes v as indented JSON when --json is set, otherwise calls text.
func (a *app) print(w io.Writer, v any, text func(io.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "outreachctl",
		Short: "CLI for outreachd server operations",
		Long: `outreachctl is a command-line interface for the outreachd operator API.
It manages campaigns, records replies, inspects the compliance log and
experiments, and opens a live dashboard.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&a.serverURL, "server", client.DefaultServerURL, "outreachd server URL")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", client.DefaultTimeout, "per-request timeout")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print raw JSON responses")

	root.AddCommand(
		newHealthCmd(a),
		newStatusCmd(a),
		newCampaignsCmd(a),
		newLeadsCmd(a),
		newSequencesCmd(a),
		newPoliciesCmd(a),
		newLogCmd(a),
		newExperimentsCmd(a),
		newQTableCmd(a),
		newDashboardCmd(a),
	)
	return root
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check outreachd server health",
		Long: `Check the health status of the outreachd server.

Examples:
  # Check health
  outreachctl health

  # Check health on a different server
  outreachctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := a.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.print(cmd.OutOrStdout(), h, func(w io.Writer) {
				fmt.Fprintf(w, "Server Status: %s\n", h.Status)
				fmt.Fprintf(w, "Server URL: %s\n", a.serverURL)
				for name, state := range h.Checks {
					fmt.Fprintf(w, "  %s: %s\n", name, state)
				}
			}); err != nil {
				return err
			}
			if h.Status != "ok" {
				return fmt.Errorf("server is %s", h.Status)
			}
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show campaign counts and engine totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), s, func(w io.Writer) {
				c := s.Campaigns
				fmt.Fprintf(w, "Campaigns: %d total, %d active, %d paused, %d completed (%d in SAFE mode)\n",
					c.Total, c.Active, c.Paused, c.Completed, c.SafeMode)
				fmt.Fprintf(w, "Policies:  %d\n", s.Policies)
				fmt.Fprintf(w, "Q cells:   %d\n", s.QCells)
			})
		},
	}
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// renderTable renders rows with a plain border suitable for pipes.
func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	fmt.Fprintln(w, t.Render())
}
