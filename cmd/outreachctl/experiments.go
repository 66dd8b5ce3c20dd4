package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/outreachd/internal/dashboard"
	"github.com/fyrsmithlabs/outreachd/internal/experiment"
	"github.com/fyrsmithlabs/outreachd/internal/guardrail"
	api "github.com/fyrsmithlabs/outreachd/internal/http"
	"github.com/fyrsmithlabs/outreachd/internal/optimizer"
)

func newExperimentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiments",
		Aliases: []string{"exp"},
		Short:   "Create, list and evaluate A/B experiments",
	}

	list := &cobra.Command{
		Use:   "list <campaign-id>",
		Short: "List a campaign's experiments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exps, err := a.client().Experiments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), exps, func(w io.Writer) {
				if len(exps) == 0 {
					fmt.Fprintln(w, "No experiments")
					return
				}
				rows := make([][]string, 0, len(exps))
				for _, e := range exps {
					winner := e.Winner
					if winner == "" {
						winner = "-"
					}
					rows = append(rows, []string{e.ID, string(e.Variable), fmt.Sprint(len(e.Variants)), string(e.Status), winner})
				}
				renderTable(w, []string{"ID", "VARIABLE", "VARIANTS", "STATUS", "WINNER"}, rows)
			})
		},
	}

	var spec experiment.Spec
	var variable string
	create := &cobra.Command{
		Use:   "create <campaign-id>",
		Short: "Create an experiment",
		Long: `Create an experiment over one message variable.

Examples:
  outreachctl experiments create c-123 --variable subject \
    --variant question --variant benefit --min-samples 200`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.CampaignID = args[0]
			spec.Variable = optimizer.Variable(variable)
			e, err := a.client().CreateExperiment(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), e, func(w io.Writer) {
				fmt.Fprintf(w, "Created experiment %s (%s: %v)\n", e.ID, e.Variable, e.Variants)
			})
		},
	}
	create.Flags().StringVar(&spec.Name, "name", "", "experiment name")
	create.Flags().StringVar(&spec.Hypothesis, "hypothesis", "", "hypothesis under test")
	create.Flags().StringVar(&variable, "variable", "", "variable under test (required)")
	create.Flags().StringSliceVar(&spec.Variants, "variant", nil, "variant value (repeatable, at least two)")
	create.Flags().Float64SliceVar(&spec.Allocation, "allocation", nil, "traffic share per variant (default uniform)")
	create.Flags().IntVar(&spec.MinSamples, "min-samples", 0, "samples per variant before a winner can be declared")
	_ = create.MarkFlagRequired("variable")

	evaluate := &cobra.Command{
		Use:   "evaluate <experiment-id>",
		Short: "Run the significance test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client().EvaluateExperiment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				rows := make([][]string, 0, len(res.Variants))
				for _, v := range res.Variants {
					rows = append(rows, []string{
						v.Variant, fmt.Sprint(v.N), fmt.Sprintf("%.4f", v.Mean),
						fmt.Sprint(v.Violations), fmt.Sprint(v.Eligible),
					})
				}
				renderTable(w, []string{"VARIANT", "N", "MEAN", "VIOLATIONS", "ELIGIBLE"}, rows)
				if res.Winner != "" {
					fmt.Fprintf(w, "Winner: %s (confidence %s)\n", res.Winner, dashboard.FormatPercentage(res.Confidence))
				}
				fmt.Fprintln(w, res.Recommendation)
			})
		},
	}

	recommend := &cobra.Command{
		Use:   "recommend <campaign-id>",
		Short: "Suggest experiments for a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, err := a.client().Recommendations(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), plans, func(w io.Writer) {
				for _, p := range plans {
					fmt.Fprintf(w, "- %s\n", p.Summary)
				}
			})
		},
	}

	cmd.AddCommand(list, create, evaluate, newOutcomeCmd(a), recommend)
	return cmd
}

func newOutcomeCmd(a *app) *cobra.Command {
	var req api.OutcomeRequest
	cmd := &cobra.Command{
		Use:   "outcome <experiment-id>",
		Short: "Record measured metrics for a variant",
		Long: `Record measured metrics for a variant. The reward is scored server side,
added to the variant's samples and applied to the optimizer. Samples that
breach a guardrail are counted against the variant but not learned.

Examples:
  outreachctl experiments outcome exp_123 --variant question \
    --reply-rate 0.08 --positive-reply-rate 0.03 --demo-book-rate 0.01
  outreachctl experiments outcome exp_123 --sequence seq_456 --reply-rate 1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.client().RecordOutcome(cmd.Context(), args[0], req)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), out, func(w io.Writer) {
				if !out.Reward.GuardrailsSatisfied {
					fmt.Fprintf(w, "Recorded %s: guardrail breach (%s), not learned\n",
						out.Variant, guardrail.Reasons(out.Reward.Violations))
					return
				}
				fmt.Fprintf(w, "Recorded %s: reward %.4f in %s\n", out.Variant, out.Reward.Total, out.State.Key())
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Variant, "variant", "", "variant the metrics were measured for")
	f.StringVar(&req.SequenceID, "sequence", "", "sequence whose assignment names the variant and state")
	m := &req.Metrics
	f.Float64Var(&m.ReplyRate, "reply-rate", 0, "reply rate")
	f.Float64Var(&m.PositiveReplyRate, "positive-reply-rate", 0, "positive reply rate")
	f.Float64Var(&m.DemoBookRate, "demo-book-rate", 0, "demo booking rate")
	f.Float64Var(&m.DemoShowRate, "demo-show-rate", 0, "demo show rate")
	f.Float64Var(&m.DemoToPaidRate, "demo-to-paid-rate", 0, "demo to paid conversion rate")
	f.Float64Var(&m.BounceRate, "bounce-rate", 0, "bounce rate")
	f.Float64Var(&m.ComplaintRate, "complaint-rate", 0, "spam complaint rate")
	f.Float64Var(&m.NegativeReplyRate, "negative-reply-rate", 0, "negative reply rate")
	f.Float64Var(&m.OptOutRate, "opt-out-rate", 0, "opt-out rate")
	cmd.MarkFlagsOneRequired("variant", "sequence")
	return cmd
}

func newQTableCmd(a *app) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "qtable",
		Short: "Show learned optimizer values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cells, err := a.client().QTable(cmd.Context())
			if err != nil {
				return err
			}
			sort.SliceStable(cells, func(i, j int) bool { return cells[i].Value > cells[j].Value })
			if top > 0 && len(cells) > top {
				cells = cells[:top]
			}
			return a.print(cmd.OutOrStdout(), cells, func(w io.Writer) {
				if len(cells) == 0 {
					fmt.Fprintln(w, "Q table is empty")
					return
				}
				rows := make([][]string, 0, len(cells))
				for _, c := range cells {
					rows = append(rows, []string{c.StateKey, c.ActionKey, fmt.Sprintf("%.4f", c.Value)})
				}
				renderTable(w, []string{"STATE", "ACTION", "VALUE"}, rows)
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", 20, "show the highest N values (0 for all)")
	return cmd
}

func newDashboardCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		rows     int
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Open the live terminal dashboard",
		Long: `Open a live dashboard of campaign counts, SAFE-mode share, throughput and
guardrail rates. Press r to refresh and q to quit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			src := dashboard.NewAPISource(a.client(), rows)
			return dashboard.Run(cmd.Context(), src, a.serverURL, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "refresh interval")
	cmd.Flags().IntVar(&rows, "rows", dashboard.DefaultMaxRows, "campaigns shown")
	return cmd
}
