package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/cvclient/internal/core/domain"
)

func newContentCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "content <file-id>",
		Short: "Print the extracted text of an analyzed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			app, err := root.app(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			content, err := app.Content.FullContent(cmd.Context(), domain.ID(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "== %s (%s)\n", content.OriginalName, content.FileID)
			fmt.Fprintln(out, content.Content)
			return nil
		},
	}
}
