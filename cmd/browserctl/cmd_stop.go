package main

import (
	"github.com/spf13/cobra"

	"github.com/tomyan/browserctl/internal/portreg"
)

// StopResult is the JSON output of stop.
type StopResult struct {
	Port    int  `json:"port"`
	Stopped bool `json:"stopped"`
}

func newStopCmd(cfg *Config) *cobra.Command {
	var rawPort string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Close the Chrome instance on the port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := cfg.registry().Load()
			if cmd.Flags().Changed("port") {
				p, err := portreg.Parse(rawPort)
				if err != nil {
					return err
				}
				port = p
			}

			if err := cfg.manager().Stop(cmd.Context(), port); err != nil {
				return fail(err)
			}
			return newPrinter(cfg).result(StopResult{Port: port, Stopped: true})
		},
	}
	cmd.Flags().StringVar(&rawPort, "port", "", "Remote debugging port (default: last used, else 9222)")
	return cmd
}
