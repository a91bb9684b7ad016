// Command erpshell serves and inspects screen definitions.
//
//	erpshell serve                      run the HTTP host
//	erpshell screens                    list the screens in SCHEMA_DIR
//	erpshell view <screen.yaml>         print a page of a screen's table
//	erpshell validate <screen.yaml> <values.json>
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "erpshell",
		Short:         "Headless table and form wizard engines for ERP screens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newScreensCmd(),
		newViewCmd(),
		newValidateCmd(),
	)
	return root
}
