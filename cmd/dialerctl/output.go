package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"donor-dialer/internal/conversations"
	"donor-dialer/internal/events"
	"donor-dialer/internal/outcome"
	"donor-dialer/internal/reporting"

	"github.com/jedib0t/go-pretty/v6/table"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderKV(w io.Writer, title string, rows [][2]any) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(title)
	for _, r := range rows {
		tw.AppendRow(table.Row{r[0], r[1]})
	}
	tw.Render()
}

func renderSummary(w io.Writer, sum reporting.CampaignSummary) {
	renderKV(w, fmt.Sprintf("Campaign %s (%s)", sum.CampaignID, sum.BusinessID), [][2]any{
		{"Conversations", sum.Conversations},
		{"Initiated", sum.Initiated},
		{"In progress", sum.InProgress},
		{"Completed", sum.Completed},
		{"Failed", sum.Failed},
		{"Connection rate", fmt.Sprintf("%.1f%%", sum.ConnectionRate*100)},
		{"Conversion rate", fmt.Sprintf("%.1f%%", sum.ConversionRate*100)},
		{"Average duration", fmt.Sprintf("%ds", sum.AverageDurationSeconds)},
	})

	kinds := make([]string, 0, len(sum.Outcomes))
	for k := range sum.Outcomes {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Outcome", "Count"})
	for _, k := range kinds {
		tw.AppendRow(table.Row{k, sum.Outcomes[outcome.Kind(k)]})
	}
	tw.Render()

	if len(sum.Pledged)+len(sum.Donated) == 0 {
		return
	}
	mt := table.NewWriter()
	mt.SetOutputMirror(w)
	mt.AppendHeader(table.Row{"Type", "Total", "Count"})
	for _, m := range sum.Pledged {
		mt.AppendRow(table.Row{"pledged", outcome.FormatMinor(m.AmountMinor, m.Currency), m.Count})
	}
	for _, m := range sum.Donated {
		mt.AppendRow(table.Row{"donated", outcome.FormatMinor(m.AmountMinor, m.Currency), m.Count})
	}
	mt.Render()
}

// inference is the offline classification of one exported event log.
type inference struct {
	Events  int                  `json:"events"`
	Status  conversations.Status `json:"status"`
	Outcome outcome.Outcome      `json:"outcome"`
	Amount  string               `json:"amount,omitempty"`
}

func inferEvents(r io.Reader) (inference, error) {
	var evs []events.Event
	if err := json.NewDecoder(r).Decode(&evs); err != nil {
		return inference{}, fmt.Errorf("decode events: %w", err)
	}
	sort.SliceStable(evs, func(i, j int) bool { return evs[i].SequenceNumber < evs[j].SequenceNumber })
	status, _ := conversations.Replay(evs)
	o := outcome.Infer(evs)
	res := inference{Events: len(evs), Status: status, Outcome: o}
	if o.HasAmount() {
		res.Amount = outcome.FormatMinor(o.AmountMinor, o.Currency)
	}
	return res, nil
}

func renderInference(w io.Writer, res inference) {
	rows := [][2]any{
		{"Events", res.Events},
		{"Status", res.Status},
		{"Outcome", res.Outcome.Kind},
	}
	if res.Amount != "" {
		rows = append(rows, [2]any{"Amount", res.Amount})
	}
	renderKV(w, "Inferred outcome", rows)
}
