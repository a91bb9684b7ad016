package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/erpshell/internal/schema"
)

func newScreensCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "screens",
		Short: "List and check the screen definitions in a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = os.Getenv("SCHEMA_DIR")
			}
			if dir == "" {
				dir = "schemas"
			}
			reg := schema.NewRegistry()
			if _, err := reg.LoadDir(dir); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "GROUP\tID\tTITLE\tTABLE\tWIZARD")
			for _, sc := range reg.All() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", sc.Group, sc.ID, sc.Title,
					describeTable(sc), describeWizard(sc))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "screen directory (default $SCHEMA_DIR or schemas)")
	return cmd
}

func describeTable(sc *schema.Screen) string {
	if !sc.HasTable() {
		return "-"
	}
	return fmt.Sprintf("%d cols, %d rows", len(sc.Columns), len(sc.Records))
}

func describeWizard(sc *schema.Screen) string {
	if !sc.HasWizard() {
		return "-"
	}
	fields := 0
	for _, st := range sc.Steps {
		fields += len(st.Fields)
	}
	return fmt.Sprintf("%d steps, %d fields", len(sc.Steps), fields)
}
