// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/mia-platform/normalizer/internal/normalization"
)

const (
	destinationsCmdUsage = "destinations"
	destinationsCmdShort = "list the destinations supporting normalization"
	destinationsCmdLong  = `List the destination families supporting normalization, together with
	the normalization image and the destination type used for each of them.`
)

// DestinationsCmd returns the "destinations" cli command listing the dispatch table.
func DestinationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   destinationsCmdUsage,
		Short: heredoc.Doc(destinationsCmdShort),
		Long:  heredoc.Doc(destinationsCmdLong),

		SilenceErrors: true,
		SilenceUsage:  true,

		Args:              cobra.NoArgs,
		ValidArgsFunction: cobra.NoFileCompletions,
		RunE: func(cmd *cobra.Command, _ []string) error {
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(writer, "FAMILY\tIMAGE\tTYPE")
			for _, mapping := range normalization.Mappings() {
				fmt.Fprintf(writer, "%s\t%s\t%s\n", mapping.Family, mapping.Tool, mapping.Type)
			}

			return writer.Flush()
		},
	}
}
