package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tagweave/tagweave/internal/codec"
	"github.com/tagweave/tagweave/internal/shape"
)

func describeCMD() *cobra.Command {
	var shapeFile string

	var describe = &cobra.Command{
		Use:   "describe",
		Short: "Print the encoded skeleton and constraints of a shape declaration",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(shapeFile)
			if err != nil {
				return err
			}
			sh, err := shape.Parse(data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, codec.Encode(sh.Skeleton(), "response_format"))
			if constraints := sh.Constraints(); len(constraints) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Constraints:")
				for _, c := range constraints {
					fmt.Fprintf(out, "  %s: %s\n", c.Path, c.Text)
				}
			}
			return nil
		},
	}
	describe.Flags().StringVar(&shapeFile, "shape", "", "shape declaration file (json)")
	_ = describe.MarkFlagRequired("shape")

	return describe
}
