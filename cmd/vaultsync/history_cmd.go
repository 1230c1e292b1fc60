package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/quietloop/vaultsync/internal/history"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse and manage a file's remote revision history",
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryPinCmd())
	cmd.AddCommand(newHistoryDeleteCmd())

	return cmd
}

type revisionJSON struct {
	ID           string `json:"id"`
	ModifiedTime string `json:"modified_time"`
	Size         int64  `json:"size"`
	Author       string `json:"author,omitempty"`
	KeepForever  bool   `json:"keep_forever"`
	Hash         string `json:"hash,omitempty"`
}

func newHistoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <path>",
		Short: "List the retained revisions of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			adapter, err := newAdapter(cmd.Context(), cc)
			if err != nil {
				return err
			}

			revisions, err := history.New(adapter).List(args[0])
			if err != nil {
				return err
			}

			if flagJSON {
				out := make([]revisionJSON, 0, len(revisions))
				for _, rev := range revisions {
					out = append(out, revisionJSON{
						ID:           rev.ID,
						ModifiedTime: rev.ModifiedTime.Format(time.RFC3339),
						Size:         rev.Size,
						Author:       rev.Author,
						KeepForever:  rev.KeepForever,
						Hash:         rev.Hash,
					})
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			if len(revisions) == 0 {
				statusf("No revisions for %s.\n", args[0])
				return nil
			}
			for _, rev := range revisions {
				pinned := ""
				if rev.KeepForever {
					pinned = "  [pinned]"
				}
				fmt.Printf("%-28s  %s  %8s%s\n",
					rev.ID, rev.ModifiedTime.Format(time.RFC3339), humanize.Bytes(uint64(rev.Size)), pinned)
			}
			return nil
		},
	}
}

func newHistoryShowCmd() *cobra.Command {
	var flagOut string

	cmd := &cobra.Command{
		Use:   "show <path> <revision-id>",
		Short: "Fetch a revision's content (integrity-verified)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			adapter, err := newAdapter(cmd.Context(), cc)
			if err != nil {
				return err
			}

			facade := history.New(adapter)
			revisions, err := facade.List(args[0])
			if err != nil {
				return err
			}
			for _, rev := range revisions {
				if rev.ID != args[1] {
					continue
				}
				data, err := facade.Fetch(args[0], rev)
				if err != nil {
					return err
				}
				if flagOut != "" {
					return os.WriteFile(flagOut, data, 0o644)
				}
				_, err = os.Stdout.Write(data)
				return err
			}
			return fmt.Errorf("no revision %q for %s", args[1], args[0])
		},
	}

	cmd.Flags().StringVarP(&flagOut, "out", "o", "", "write content to a file instead of stdout")
	return cmd
}

func newHistoryPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <path> <revision-id>",
		Short: "Keep a revision forever",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			adapter, err := newAdapter(cmd.Context(), cc)
			if err != nil {
				return err
			}
			if err := history.New(adapter).Pin(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			statusf("Pinned %s revision %s.\n", args[0], args[1])
			return nil
		},
	}
}

func newHistoryDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <path> <revision-id>",
		Short: "Delete a single revision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			adapter, err := newAdapter(cmd.Context(), cc)
			if err != nil {
				return err
			}
			if err := history.New(adapter).Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			statusf("Deleted %s revision %s.\n", args[0], args[1])
			return nil
		},
	}
}
