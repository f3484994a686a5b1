package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "swapi",
		Short: "Star Wars characters archive",
		Long: `
Loads every character from the SWAPI people collection, resolves homeworld,
films, species, starships and vehicles to their names, and stores the result
as one snapshot. Configuration is read from the environment and an optional
.env file.
`,
		SilenceUsage: true,
	}

	root.AddCommand(newRunCommand())
	root.AddCommand(newServeCommand())
	return root
}
