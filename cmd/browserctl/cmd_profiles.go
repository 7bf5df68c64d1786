package main

import (
	"errors"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tomyan/browserctl/internal/profile"
)

var errNoProfiles = errors.New("no Chrome profiles found")

// ProfileInfo is one entry of the profiles JSON output.
type ProfileInfo struct {
	Name string `json:"name"`
	Dir  string `json:"dir"`
}

func newProfilesCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the installed Chrome profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := cfg.profileStore().List()
			if len(entries) == 0 {
				return fail(errNoProfiles)
			}

			p := newPrinter(cfg)
			for _, line := range profile.FormatList(entries) {
				p.line("%s", line)
			}

			infos := make([]ProfileInfo, len(entries))
			for i, e := range entries {
				infos[i] = ProfileInfo{Name: e.Name, Dir: e.Dir}
			}
			sort.Slice(infos, func(i, j int) bool {
				if infos[i].Name != infos[j].Name {
					return infos[i].Name < infos[j].Name
				}
				return infos[i].Dir < infos[j].Dir
			})
			return p.result(infos)
		},
	}
}
