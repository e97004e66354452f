package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/GanWeaving/social-cross-post/internal/analytics"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-platform publish outcomes for one day (requires REDIS_ADDR)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.load()
			if err != nil {
				return err
			}
			if cfg.RedisAddr == "" {
				return invalid(fmt.Errorf("REDIS_ADDR is not set; analytics are disabled"))
			}

			when := time.Now().UTC()
			if day != "" {
				when, err = time.Parse(time.DateOnly, day)
				if err != nil {
					return invalid(fmt.Errorf("invalid --day %q: want YYYY-MM-DD", day))
				}
			}

			client := newRedisClient(cfg)
			defer client.Close()

			counts, err := analytics.NewRedisSink(client, cfg.AnalyticsRetention, logger).Daily(cmd.Context(), when)
			if err != nil {
				return fmt.Errorf("read analytics: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Outcomes for %s (UTC)\n", when.Format(time.DateOnly))
			fmt.Fprint(out, renderTable(
				[]string{"Platform", "Succeeded", "Failed"},
				buildStatsRows(counts),
				[]columnAlignment{alignLeft, alignRight, alignRight},
				shouldColorize(out),
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "UTC day (YYYY-MM-DD); defaults to today")
	return cmd
}

func buildStatsRows(counts []analytics.DailyCount) [][]string {
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		rows = append(rows, []string{
			c.Platform.DisplayName(),
			strconv.FormatInt(c.Success, 10),
			strconv.FormatInt(c.Failure, 10),
		})
	}
	return rows
}
