package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/klp2/cfprobe/internal/config"
	"github.com/klp2/cfprobe/internal/subnetinfo"
)

func newDescribeCmd() *cobra.Command {
	var ipv4Amount, ipv6Amount int64
	var ipv6Mode string
	var testAll bool

	cmd := &cobra.Command{
		Use:   "describe <cidr-or-ip>",
		Short: "Report a CIDR's range and how many endpoints a run would select from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.IPv4Amount = ipv4Amount
			cfg.IPv6Amount = ipv6Amount
			if ipv6Mode != "" {
				cfg.IPv6Mode = config.IPv6Mode(ipv6Mode)
			}
			cfg.TestAll = testAll

			info, err := subnetinfo.Describe(args[0], cfg)
			if err != nil {
				return err
			}
			fmt.Print(info.Format())
			return nil
		},
	}

	cmd.Flags().Int64Var(&ipv4Amount, "n4", 0, "explicit IPv4 selection count (0 = heuristic)")
	cmd.Flags().Int64Var(&ipv6Amount, "n6", 0, "explicit IPv6 selection count (0 = mode default)")
	cmd.Flags().StringVar(&ipv6Mode, "ipv6num", "", "IPv6 selection preset: small|medium|large|huge")
	cmd.Flags().BoolVar(&testAll, "all4", false, "report as if -all4 were set")

	return cmd
}
