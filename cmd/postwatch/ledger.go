package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"postwatch/internal/app"
	"postwatch/internal/source"
	"postwatch/pkg/logx"
)

var ledgerFormat string

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show the announced posts and the notification target",
	RunE:  ledgerAction,
}

func init() {
	ledgerCmd.Flags().StringVar(&ledgerFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(ledgerCmd)
}

func ledgerAction(cmd *cobra.Command, _ []string) error {
	cfg, err := parseConfig()
	if err != nil {
		return err
	}
	rep, err := app.ReadLedger(cmd.Context(), cfg, logx.NewConsole("warn"))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch ledgerFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Target  string   `json:"target"`
			Cap     int      `json:"cap"`
			Entries []string `json:"entries"`
		}{rep.Target, rep.Cap, rep.Entries})
	case "terminal":
	default:
		return fmt.Errorf("unknown format %q", ledgerFormat)
	}

	fmt.Fprintf(out, "target: %s\nentries: %d/%d (oldest first)\n", rep.Target, len(rep.Entries), rep.Cap)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for i, code := range rep.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", i+1, code, source.Post{Shortcode: code}.URL())
	}
	return tw.Flush()
}
