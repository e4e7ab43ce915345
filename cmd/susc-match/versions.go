package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List snapshot versions in the snapshot directory",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); err == nil {
					err = cerr
				}
			}()

			ctx := cmd.Context()
			versions, err := a.engine.Versions(ctx)
			if err != nil {
				return err
			}
			if len(versions) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "# No snapshots in %s\n", viper.GetString("snapshot_dir"))
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tLAST_UPDATE")
			for _, v := range versions {
				// Reading the timestamp does not load the snapshot.
				ts, err := a.repo.LastUpdate(ctx, v)
				if err != nil {
					ts = "error: " + err.Error()
				}
				fmt.Fprintf(tw, "%s\t%s\n", v, ts)
			}
			return tw.Flush()
		},
	}
}
