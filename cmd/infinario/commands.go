package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/five82/infinario/internal/app"
	"github.com/five82/infinario/internal/version"
)

func newIdentifyCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "identify <customer-id>",
		Short: "Register the anonymous visitor as a customer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(s *app.Session) {
				s.Identify(args[0])
			})
		},
	}
}

func newUpdateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "update <attributes-json>",
		Short:   "Set customer attributes",
		Example: `  infinario update '{"name": "Alice", "plan": "pro"}'`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(s *app.Session) {
				s.Update(args[0])
			})
		},
	}
}

func newTrackCommand(c *cli) *cobra.Command {
	var timestamp float64
	cmd := &cobra.Command{
		Use:     "track <event> [attributes-json]",
		Short:   "Record an event",
		Example: `  infinario track purchase '{"item": "sword", "price": 2.41}' --timestamp 1449008256`,
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var attributes any
			if len(args) == 2 {
				attributes = args[1]
			}
			var ts *float64
			if cmd.Flags().Changed("timestamp") {
				if timestamp < 0 {
					return fmt.Errorf("timestamp must not be negative")
				}
				ts = &timestamp
			}
			return c.run(cmd, func(s *app.Session) {
				s.Track(args[0], attributes, ts)
			})
		},
	}
	cmd.Flags().Float64Var(&timestamp, "timestamp", 0, "event time in Unix seconds (default now)")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the infinario version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", version.Module(), version.Current())
			return err
		},
	}
}
