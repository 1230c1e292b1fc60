package main

import (
	"encoding/json"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// conflictMarker is the substring fork siblings carry in their names.
const conflictMarker = " (Conflict "

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List conflict fork files in the local vault",
		Long: `List files preserved as conflict forks. Each fork is the losing side
of a past divergence, kept alongside the canonical file so nothing was
lost. Resolve one by merging it into the canonical file (or deleting it)
and letting the next sync propagate the result.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			if cc.Cfg.Root == "" {
				return cmd.Help()
			}

			var forks []string
			err := filepath.WalkDir(cc.Cfg.Root, func(p string, d iofs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return nil
				}
				if strings.Contains(d.Name(), conflictMarker) {
					if rel, relErr := filepath.Rel(cc.Cfg.Root, p); relErr == nil {
						forks = append(forks, filepath.ToSlash(rel))
					}
				}
				return nil
			})
			if err != nil {
				return err
			}

			if flagJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(forks)
			}

			if len(forks) == 0 {
				statusf("No conflict forks.\n")
				return nil
			}
			for _, f := range forks {
				os.Stdout.WriteString(f + "\n")
			}
			return nil
		},
	}
}
