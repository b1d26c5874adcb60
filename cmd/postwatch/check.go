package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"postwatch/internal/app"
	"postwatch/internal/commands"
	"postwatch/internal/watch"
	"postwatch/pkg/logx"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Poll the profile once and announce a new post if there is one",
	RunE:  checkAction,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func checkAction(cmd *cobra.Command, _ []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logx.NewConsole(cfg.Logging.Level)

	res, err := app.CheckOnce(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), commands.DescribeResult(res, cfg.Commands.Prefix))
	switch res.Outcome {
	case watch.OutcomeFetchError, watch.OutcomeSendError:
		return fmt.Errorf("check: %s", res.Outcome)
	}
	return nil
}
