package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ldesign/toolkit/builder"
	"github.com/spf13/cobra"
)

func newDetectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "detect [dir]",
		Short: "Guess the library type of a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			d, err := builder.Detect(os.DirFS(dir))
			if err != nil {
				return fmt.Errorf("detecting %s: %w", dir, err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			fmt.Fprintf(out, "%s\t%.2f\n", d.Type, d.Confidence)
			for _, e := range d.Evidence[d.Type] {
				fmt.Fprintf(out, "  %s\n", e)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print scores and evidence as JSON")
	return cmd
}
