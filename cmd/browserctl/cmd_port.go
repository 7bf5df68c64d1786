package main

import (
	"github.com/spf13/cobra"
)

// PortResult is the JSON output of port.
type PortResult struct {
	Port int `json:"port"`
}

func newPortCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "port",
		Short: "Print the port commands target by default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := cfg.registry().Load()
			p := newPrinter(cfg)
			p.line("%d", port)
			return p.result(PortResult{Port: port})
		},
	}
}
