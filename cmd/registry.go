package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRegistryCmd creates the 'registry' subcommand, which prints the phases
// and categories the configuration resolves to.
func newRegistryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "Prints the configured phases and categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			phases, err := cfg.PhaseRegistry()
			if err != nil {
				return err
			}
			categories, err := cfg.CategoryRegistry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range phases.All() {
				fmt.Fprintf(out, "phase\t%s\t%s\tterminal=%t\tsuccess=%t\n",
					p.ID, p.DisplayName, p.Terminal, p.IsSuccess())
			}
			for _, name := range categories.All() {
				set, _ := categories.Lookup(name)
				fmt.Fprintf(out, "category\t%s\t%s\n", name, set)
			}
			return nil
		},
	}
}
