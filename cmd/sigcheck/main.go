// Command sigcheck checks the DAFix signatures against a Dragon Age
// executable on disk, and can rehearse the whole fix against it.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	titleFlag  string
	configFlag string
	dryRunFlag bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "sigcheck [exe]",
	Short:        "Checks the DAFix signatures against a Dragon Age executable",
	Args:         cobra.ExactArgs(1),
	RunE:         checkCommand,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&titleFlag, "title", "", "executable name to check as, detected from the file name by default")
	rootCmd.Flags().StringVar(&configFlag, "config", "", "DAFix.toml used by --dry-run, defaults otherwise")
	rootCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "apply every fix to an in-memory copy of the executable")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every scan")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
