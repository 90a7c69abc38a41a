package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/bootstrap"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <namespace>",
		Short: "Compare record counts across the stores of a namespace",
		Long: `Count chunks in the vector store, the lexical index and the graph store
and check provenance of every mention link. Exits non-zero when the
stores drifted beyond the configured tolerances.`,
		Args: cobra.ExactArgs(1),
		RunE: runValidate,
	}
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	return withServices(cmd, func(s *bootstrap.Services) error {
		r, err := s.Validator.Validate(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(r); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "namespace:          %s\n", r.Namespace)
			fmt.Fprintf(out, "vector chunks:      %d\n", r.VectorChunks)
			fmt.Fprintf(out, "lexical documents:  %d\n", r.LexicalDocuments)
			fmt.Fprintf(out, "graph chunks:       %d\n", r.GraphChunks)
			fmt.Fprintf(out, "missing provenance: %d\n", r.MissingProvenance)
			fmt.Fprintf(out, "orphan chunks:      %d\n", r.OrphanChunks)
			fmt.Fprintf(out, "consistent:         %t\n", r.Consistent)
		}
		return r.Err()
	})
}
