package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqi-forecast/internal/model"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the encoder schema stored in the model artifact",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := model.LoadArtifact(cfg.ModelPath)
		if err != nil {
			return err
		}
		s := a.Schema

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Kind:\t%s\n", a.Kind)
		fmt.Fprintf(w, "Version:\t%d\n", s.Version)
		fmt.Fprintf(w, "Fingerprint:\t%s\n", s.Fingerprint)
		fmt.Fprintf(w, "Reference:\t%s\n", s.Reference)
		fmt.Fprintf(w, "Cities:\t%s\n", strings.Join(s.Cities, ", "))
		fmt.Fprintf(w, "Trained:\t%s\n", a.TrainedAt.Format("2006-01-02 15:04:05"))
		fmt.Fprintln(w)
		fmt.Fprintln(w, "#\tCOLUMN")
		for i, c := range s.Columns {
			fmt.Fprintf(w, "%d\t%s\n", i, c)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
