package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	api "github.com/fyrsmithlabs/outreachd/internal/http"
	"github.com/fyrsmithlabs/outreachd/internal/sequencer"
)

func newLeadsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "Submit leads to a campaign",
	}
	var file string
	submit := &cobra.Command{
		Use:   "submit <campaign-id>",
		Short: "Qualify leads and start sequences for the survivors",
		Long: `Submit lead cards from a YAML or JSON file with a top-level "leads" list.

Examples:
  outreachctl leads submit c-123 -f leads.yaml
  cat leads.json | outreachctl leads submit c-123 -f -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req api.LeadsRequest
			if err := loadDocument(file, cmd.InOrStdin(), &req); err != nil {
				return err
			}
			resp, err := a.client().SubmitLeads(cmd.Context(), args[0], req.Leads)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), resp, func(w io.Writer) {
				fmt.Fprintf(w, "Qualified: %d, started: %d, dropped: %d\n", resp.Qualified, len(resp.Started), len(resp.Dropped))
				for _, d := range resp.Dropped {
					fmt.Fprintf(w, "  dropped %s: %s\n", d.Lead.ID, d.Reason)
				}
				ids := make([]string, 0, len(resp.Failed))
				for id := range resp.Failed {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					fmt.Fprintf(w, "  failed %s: %s\n", id, resp.Failed[id])
				}
			})
		},
	}
	submit.Flags().StringVarP(&file, "file", "f", "", "lead file (YAML or JSON, - for stdin)")
	_ = submit.MarkFlagRequired("file")
	cmd.AddCommand(submit)
	return cmd
}

func newSequencesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sequences",
		Aliases: []string{"seq"},
		Short:   "Inspect sequences and record lead replies",
	}

	list := &cobra.Command{
		Use:   "list <campaign-id>",
		Short: "List a campaign's sequences",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seqs, err := a.client().Sequences(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), seqs, func(w io.Writer) {
				if len(seqs) == 0 {
					fmt.Fprintln(w, "No sequences")
					return
				}
				rows := make([][]string, 0, len(seqs))
				for _, s := range seqs {
					next := "-"
					if !s.NextTouchAt.IsZero() {
						next = s.NextTouchAt.Format("2006-01-02 15:04")
					}
					rows = append(rows, []string{
						s.ID, s.LeadID, string(s.Status),
						fmt.Sprintf("%d/%d", s.Cursor, len(s.Pack.Touches)),
						next,
					})
				}
				renderTable(w, []string{"ID", "LEAD", "STATUS", "TOUCH", "NEXT"}, rows)
			})
		},
	}

	var reply sequencer.Reply
	var intent, sentiment string
	replyCmd := &cobra.Command{
		Use:   "reply <sequence-id>",
		Short: "Record a lead reply",
		Long: `Record a reply from a lead. Intent is one of interested, not_interested,
question or opt_out. An opt-out stops the sequence and suppresses the lead.

Examples:
  outreachctl sequences reply s-123 --intent interested --sentiment positive
  outreachctl sequences reply s-123 --intent opt_out --text "remove me"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply.Intent = sequencer.Intent(strings.ToLower(intent))
			reply.Sentiment = sequencer.Sentiment(strings.ToLower(sentiment))
			res, err := a.client().Reply(cmd.Context(), args[0], reply)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "Action: %s (sequence %s)\n", res.Action, res.Status)
				if res.Response != "" {
					fmt.Fprintf(w, "Response: %s\n", res.Response)
				}
				if res.Booking != nil {
					fmt.Fprintf(w, "Booking: %s\n", res.Booking.Link)
				}
			})
		},
	}
	replyCmd.Flags().StringVar(&intent, "intent", "", "reply intent (required)")
	replyCmd.Flags().StringVar(&sentiment, "sentiment", "neutral", "reply sentiment (positive, neutral, negative)")
	replyCmd.Flags().StringVar(&reply.Text, "text", "", "reply text")
	_ = replyCmd.MarkFlagRequired("intent")

	cmd.AddCommand(list, replyCmd)
	return cmd
}
