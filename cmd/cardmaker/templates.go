package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matsumoto-fabrica/cardmaker/internal/card"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the card templates",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		for _, t := range card.Templates() {
			fmt.Fprintf(out, "%d\t%-12s\tbackground #%02x%02x%02x\taccent #%02x%02x%02x\n",
				t.ID, t.Name,
				t.Background.R, t.Background.G, t.Background.B,
				t.Accent.R, t.Accent.G, t.Accent.B)
		}
	},
}

func init() {
	rootCmd.AddCommand(templatesCmd)
}
