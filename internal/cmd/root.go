package cmd

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "mealplan.json"

var version = "dev"

// NewRootCmd creates the root cobra command for mealplan.
// When invoked without a subcommand, it delegates to "run".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "mealplan",
		Short: "Personalized monthly meal plans",
		Long:  "mealplan sells diet meal plans through Stripe, generates recipes with a language model and delivers PDFs and shopping lists.",
		// Bare invocation (no subcommand) behaves as "run".
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newJobsCmd())
	root.AddCommand(newRecipesCmd())
	root.AddCommand(newUsersCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	return root
}

// resolveConfigPath returns the config file path from (in priority order):
// 1. Positional argument
// 2. --config / -c flag
// 3. Default value
func resolveConfigPath(cmd *cobra.Command, args []string, defaultPath string) string {
	if len(args) > 0 {
		return args[0]
	}
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if f := cmd.Root().PersistentFlags().Lookup("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	return defaultPath
}
