package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/outreachd/internal/campaign"
	"github.com/fyrsmithlabs/outreachd/internal/dashboard"
	"github.com/fyrsmithlabs/outreachd/internal/policy"
)

func newCampaignsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "campaigns",
		Aliases: []string{"campaign", "c"},
		Short:   "Create, inspect, pause and resume campaigns",
	}
	cmd.AddCommand(
		newCampaignListCmd(a),
		newCampaignGetCmd(a),
		newCampaignCreateCmd(a),
		newCampaignPauseCmd(a),
		newCampaignResumeCmd(a),
		newCampaignMetricsCmd(a),
		newCampaignGuardrailsCmd(a),
	)
	return cmd
}

func newCampaignListCmd(a *app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cs, err := a.client().ListCampaigns(cmd.Context(), campaign.Status(status))
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), cs, func(w io.Writer) {
				if len(cs) == 0 {
					fmt.Fprintln(w, "No campaigns")
					return
				}
				rows := make([][]string, 0, len(cs))
				for _, c := range cs {
					rows = append(rows, []string{
						c.ID,
						c.Config.Country,
						c.Config.Industry,
						string(c.Mode),
						string(c.Status),
						dashboard.FormatCount(c.Stats.TouchesSent),
						c.CreatedAt.Format("2006-01-02 15:04"),
					})
				}
				renderTable(w, []string{"ID", "COUNTRY", "INDUSTRY", "MODE", "STATUS", "SENT", "CREATED"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, paused, completed)")
	return cmd
}

func newCampaignGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client().GetCampaign(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), c, func(w io.Writer) { printCampaign(w, c) })
		},
	}
}

func newCampaignCreateCmd(a *app) *cobra.Command {
	var (
		file     string
		cfg      campaign.Config
		channels []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign",
		Long: `Create a campaign from flags or a YAML/JSON file.

The server runs the compliance gate before creating anything; a blocked
campaign prints the failing check. Values in the file override flags.

Examples:
  # From flags
  outreachctl campaigns create --country "United States" --industry restaurant \
    --language en --offer "AI receptionist" --channel email \
    --disclosure "Sender identity" --disclosure "Physical address" \
    --disclosure "Opt-out mechanism"

  # From a file
  outreachctl campaigns create -f campaign.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file != "" {
				if err := loadDocument(file, cmd.InOrStdin(), &cfg); err != nil {
					return err
				}
			}
			for _, ch := range channels {
				cfg.Channels = append(cfg.Channels, policy.Channel(strings.ToLower(ch)))
			}
			c, err := a.client().CreateCampaign(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), c, func(w io.Writer) {
				fmt.Fprintf(w, "Created campaign %s\n", c.ID)
				printCampaign(w, c)
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "campaign config file (YAML or JSON, - for stdin)")
	f.StringVar(&cfg.Country, "country", "", "target country or jurisdiction")
	f.StringVar(&cfg.City, "city", "", "target city")
	f.StringVar(&cfg.Industry, "industry", "", "target industry")
	f.StringVar(&cfg.Language, "language", "", "message language")
	f.StringVar(&cfg.Offer, "offer", "", "offer pitched to leads")
	f.StringVar(&cfg.TargetPlan, "target-plan", "", "plan being sold")
	f.StringVar(&cfg.Timezone, "timezone", "", "IANA timezone for send windows")
	f.StringVar(&cfg.CompanySize, "company-size", "", "target company size")
	f.IntVar(&cfg.WeeklyVolume, "weekly-volume", 0, "planned touches per week")
	f.StringSliceVar(&channels, "channel", nil, "outreach channel (repeatable)")
	f.StringSliceVar(&cfg.Disclosures, "disclosure", nil, "disclosure included in messages (repeatable)")
	f.BoolVar(&cfg.OptIn, "opt-in", false, "leads have given prior consent")
	return cmd
}

func newCampaignPauseCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "pause <id>",
		Short: "Pause a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client().PauseCampaign(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), c, func(w io.Writer) {
				fmt.Fprintf(w, "Campaign %s is %s\n", c.ID, c.Status)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "paused by operator", "reason recorded in the compliance log")
	return cmd
}

func newCampaignResumeCmd(a *app) *cobra.Command {
	var reviewer string
	cmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a paused campaign after human review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client().ResumeCampaign(cmd.Context(), args[0], reviewer)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), c, func(w io.Writer) {
				fmt.Fprintf(w, "Campaign %s is %s (reviewed by %s)\n", c.ID, c.Status, c.ResumedBy)
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "identity of the human reviewer (required)")
	_ = cmd.MarkFlagRequired("reviewer")
	return cmd
}

func newCampaignMetricsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics <id>",
		Short: "Show counters and rates against guardrails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.client().CampaignMetrics(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), m, func(w io.Writer) {
				fmt.Fprintf(w, "Campaign %s (%s)\n", m.CampaignID, m.Status)
				fmt.Fprintf(w, "Sent %d, delivered %d, replies %d, demos %d, deals %d\n",
					m.Stats.TouchesSent, m.Stats.Delivered, m.Stats.Replies, m.Stats.DemosBooked, m.Stats.DealsClosed)
				pct := dashboard.FormatPercentage
				renderTable(w, []string{"GUARDRAIL", "RATE", "LIMIT"}, [][]string{
					{"bounce", pct(m.Rates.BounceRate), pct(m.Thresholds.MaxBounceRate)},
					{"complaint", pct(m.Rates.ComplaintRate), pct(m.Thresholds.MaxComplaintRate)},
					{"negative reply", pct(m.Rates.NegativeReplyRate), pct(m.Thresholds.MaxNegativeReplyRate)},
					{"opt-out", pct(m.Rates.OptOutRate), pct(m.Thresholds.MaxOptOutRate)},
				})
				for _, v := range m.Violations {
					fmt.Fprintf(w, "VIOLATION: %s\n", v)
				}
			})
		},
	}
}

func newCampaignGuardrailsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "guardrails <id>",
		Short: "Evaluate guardrails now, pausing the campaign on a breach",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := a.client().EvaluateGuardrails(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), g, func(w io.Writer) {
				if !g.Breached {
					fmt.Fprintln(w, "Guardrails satisfied")
					return
				}
				fmt.Fprintf(w, "Guardrails breached; campaign is %s\n", g.Campaign.Status)
				for _, v := range g.Violations {
					fmt.Fprintf(w, "  %s\n", v)
				}
			})
		},
	}
}

func printCampaign(w io.Writer, c *campaign.Campaign) {
	fmt.Fprintf(w, "ID:        %s\n", c.ID)
	fmt.Fprintf(w, "Status:    %s\n", c.Status)
	fmt.Fprintf(w, "Mode:      %s\n", c.Mode)
	fmt.Fprintf(w, "Target:    %s / %s (%s)\n", c.Config.Country, c.Config.Industry, c.Config.Language)
	fmt.Fprintf(w, "Offer:     %s\n", c.Config.Offer)
	if c.Policy != nil {
		known := ""
		if !c.PolicyKnown {
			known = " (restrictive default)"
		}
		fmt.Fprintf(w, "Policy:    %s%s\n", c.Policy.JurisdictionID, known)
	}
	if c.PauseReason != "" {
		fmt.Fprintf(w, "Paused:    %s\n", c.PauseReason)
	}
	fmt.Fprintf(w, "Sent:      %d\n", c.Stats.TouchesSent)
}
