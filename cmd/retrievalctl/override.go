package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/OFFIS-RIT/kiwi/retrieval/internal/bootstrap"
	"github.com/OFFIS-RIT/kiwi/retrieval/internal/util"
)

func newOverrideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Manage relation type overrides",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every override",
			Args:  cobra.NoArgs,
			RunE:  runOverrideList,
		},
		&cobra.Command{
			Use:   "set <label> <canonical>",
			Short: "Map a relation label to a canonical type",
			Args:  cobra.ExactArgs(2),
			RunE:  runOverrideSet,
		},
		&cobra.Command{
			Use:   "delete <label>",
			Short: "Remove the override of a relation label",
			Args:  cobra.ExactArgs(1),
			RunE:  runOverrideDelete,
		},
		&cobra.Command{
			Use:   "import <file>",
			Short: "Load overrides from a YAML file",
			Args:  cobra.ExactArgs(1),
			RunE:  runOverrideImport,
		},
	)
	return cmd
}

func runOverrideList(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(s *bootstrap.Services) error {
		overrides, err := s.Relations.Overrides(cmd.Context())
		if err != nil {
			return err
		}
		labels := make([]string, 0, len(overrides))
		for label := range overrides {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", label, overrides[label])
		}
		return nil
	})
}

func runOverrideSet(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(s *bootstrap.Services) error {
		label := util.NormalizeRelationType(args[0])
		canonical := util.NormalizeRelationType(args[1])
		if label == "" || canonical == "" {
			return errors.New("label and canonical must not be empty")
		}
		return s.Relations.SetOverride(cmd.Context(), label, canonical)
	})
}

func runOverrideDelete(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(s *bootstrap.Services) error {
		return s.Relations.DeleteOverride(cmd.Context(), util.NormalizeRelationType(args[0]))
	})
}

func runOverrideImport(cmd *cobra.Command, args []string) error {
	return withServices(cmd, func(s *bootstrap.Services) error {
		return s.SeedOverrides(cmd.Context(), args[0])
	})
}
