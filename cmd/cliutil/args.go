// Package cliutil holds argument helpers shared by the subcommands.
package cliutil

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ofo-tools/treecrown/internal/errors"
)

// PositionalArgs requires exactly n arguments and reports a mismatch as an
// argument error.
func PositionalArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return errors.Newf("expected %d arguments, got %d\nUsage: %s", n, len(args), cmd.UseLine()).
				Category(errors.CategoryArgument).
				Context("command", cmd.Name()).
				Build()
		}
		return nil
	}
}

// ParsePatchSize converts the patch size argument to an integer. Range
// checks are left to the tiler.
func ParsePatchSize(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, errors.Newf("patch size must be an integer, got %q", arg).
			Category(errors.CategoryArgument).
			Context("argument", "patch_size").
			Build()
	}
	return n, nil
}
