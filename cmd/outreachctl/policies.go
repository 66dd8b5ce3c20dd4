package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/outreachd/internal/compliancelog"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

func newPoliciesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "policies [country-or-jurisdiction]",
		Aliases: []string{"policy"},
		Short:   "List jurisdiction policies or resolve one",
		Long: `With no argument, list every loaded jurisdiction policy. With a country or
jurisdiction key, show the policy that applies; unknown keys resolve to the
restrictive default.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			if len(args) == 1 {
				p, err := c.Policy(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(cmd.OutOrStdout(), p, func(w io.Writer) {
					if !p.Known {
						fmt.Fprintf(w, "No policy for %q; the restrictive default applies\n", args[0])
					}
					printPolicy(w, p.Policy)
				})
			}

			ps, err := c.Policies(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), ps, func(w io.Writer) {
				rows := make([][]string, 0, len(ps))
				for _, p := range ps {
					rows = append(rows, []string{
						p.JurisdictionID, p.Country, channelList(p.AllowedChannels),
						string(p.RiskLevel), fmt.Sprintf("%.2f", p.Confidence),
					})
				}
				renderTable(w, []string{"ID", "COUNTRY", "CHANNELS", "RISK", "CONFIDENCE"}, rows)
			})
		},
	}
}

func printPolicy(w io.Writer, p *policy.Policy) {
	if p == nil {
		return
	}
	fmt.Fprintf(w, "Jurisdiction: %s (%s)\n", p.JurisdictionID, p.Country)
	fmt.Fprintf(w, "Channels:     %s\n", channelList(p.AllowedChannels))
	fmt.Fprintf(w, "Risk:         %s (confidence %.2f)\n", p.RiskLevel, p.Confidence)
	fmt.Fprintf(w, "DNC required: %v\n", p.DNCRequired)
	if len(p.RequiredDisclosures) > 0 {
		fmt.Fprintf(w, "Disclosures:  %s\n", strings.Join(p.RequiredDisclosures, ", "))
	}
	if p.EnforcementNotes != "" {
		fmt.Fprintf(w, "Notes:        %s\n", p.EnforcementNotes)
	}
}

func channelList(chs []policy.Channel) string {
	if len(chs) == 0 {
		return "none"
	}
	out := make([]string, len(chs))
	for i, ch := range chs {
		out[i] = string(ch)
	}
	return strings.Join(out, ",")
}

func newLogCmd(a *app) *cobra.Command {
	var (
		f     compliancelog.Filter
		since time.Duration
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Query the compliance log",
		Long: `Query the append-only compliance log.

Examples:
  # Everything for one campaign in the last day
  outreachctl log --campaign c-123 --since 24h

  # Blocked decisions only
  outreachctl log --result block --limit 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			evs, err := a.client().QueryLog(cmd.Context(), f)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), evs, func(w io.Writer) {
				if len(evs) == 0 {
					fmt.Fprintln(w, "No records")
					return
				}
				rows := make([][]string, 0, len(evs))
				for _, e := range evs {
					rows = append(rows, []string{
						e.Timestamp.UTC().Format(time.RFC3339),
						e.Action, string(e.Result), e.CampaignID, e.LeadID, e.Check, e.Reason,
					})
				}
				renderTable(w, []string{"TIME", "ACTION", "RESULT", "CAMPAIGN", "LEAD", "CHECK", "REASON"}, rows)
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.CampaignID, "campaign", "", "filter by campaign ID")
	fl.StringVar(&f.LeadID, "lead", "", "filter by lead ID")
	fl.StringVar(&f.Action, "action", "", "filter by action")
	fl.StringVar((*string)(&f.Result), "result", "", "filter by result")
	fl.DurationVar(&since, "since", 0, "only records newer than this (e.g. 24h)")
	fl.IntVar(&f.Limit, "limit", 0, "maximum records (server default when 0)")
	return cmd
}
