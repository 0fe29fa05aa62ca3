package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/cvclient/internal/core/domain"
)

func newChatCommand(root *rootOptions) *cobra.Command {
	var batchID string

	cmd := &cobra.Command{
		Use:   "chat --batch <id> <question...>",
		Short: "Ask one follow-up question about an analyzed batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(batchID) == "" {
				return domain.WrapError(domain.ErrInvalidInput, "chat", errors.New("--batch is required"))
			}
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			app, err := root.app(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			reply, err := app.API.SendChat(cmd.Context(), domain.ID(batchID), strings.Join(args, " "))
			if err != nil {
				if domain.IsKind(err, domain.ErrQuota) {
					return fmt.Errorf("the AI usage limit was reached: %w", err)
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}

	cmd.Flags().StringVarP(&batchID, "batch", "b", "", "batch id returned by the upload")
	return cmd
}
