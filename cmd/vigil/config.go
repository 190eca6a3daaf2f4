package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/vigil/internal/config"
	"github.com/steveyegge/vigil/internal/control"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect, validate and apply configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the configuration of the running monitor",
	Run: func(cmd *cobra.Command, args []string) {
		doc, err := control.NewClient(resolveSocket()).Config()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(doc)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a configuration file without applying it",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := configPath
		if len(args) == 1 {
			path = args[0]
		}

		if _, err := config.LoadFromFile(path); err != nil {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(os.Stderr, "%s %v\n", red("✗"), err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s %s is valid\n", green("✓"), path)
	},
}

var configApplyCmd = &cobra.Command{
	Use:   "apply <file>",
	Short: "Send a configuration file to the running monitor",
	Long: `Send a configuration document to the running monitor. The document is
validated by the monitor; a rejected document leaves the old configuration
in place.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		doc, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if err := control.NewClient(resolveSocket()).UpdateConfig(doc); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Configuration applied\n", green("✓"))
	},
}

var configDefaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the built-in default configuration",
	Run: func(cmd *cobra.Command, args []string) {
		doc, err := config.Default().Marshal()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Print(string(doc))
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configApplyCmd)
	configCmd.AddCommand(configDefaultsCmd)
	rootCmd.AddCommand(configCmd)
}
