package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/cvclient/internal/core/domain"
)

func newDownloadCommand(root *rootOptions) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "download <file-id...>",
		Short: "Download original files of an analyzed batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if dir != "" {
				cfg.DownloadDir = dir
			}
			app, err := root.app(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			for _, id := range args {
				file, err := app.Content.Download(cmd.Context(), domain.ID(id))
				if err != nil {
					return fmt.Errorf("download %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d bytes\t%s\n", file.Name, file.Bytes, file.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "destination directory (overrides config)")
	return cmd
}
