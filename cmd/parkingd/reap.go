package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newReapCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Expire lapsed pending reservations and purge old waitlist entries once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closer, err := loadEnv(*configPath)
			if err != nil {
				return err
			}
			defer closeQuietly(closer)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.reaper.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired=%d purged=%d\n", res.Expired, res.Purged)
			return nil
		},
	}
}
