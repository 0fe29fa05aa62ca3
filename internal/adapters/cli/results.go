package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/infrastructure/queue/nats"
	"github.com/kirillkom/cvclient/internal/observability/logging"
)

func newResultsCommand(root *rootOptions) *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print batch results published on NATS as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cfg.NATSURL == "" {
				return domain.WrapError(domain.ErrInvalidInput, "results", errors.New("NATS_URL is not configured"))
			}
			if subject == "" {
				subject = cfg.NATSSubject
			}

			logWriter, closeLog, err := logging.OpenFile(cfg.LogFile)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			defer closeLog()
			logger := logging.NewJSONLogger("cvclient", cfg.LogLevel, logWriter)

			conn, err := nats.Connect(cfg.NATSURL, nats.Options{Logger: logger})
			if err != nil {
				return err
			}
			defer conn.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			errOut := cmd.ErrOrStderr()
			return nats.Subscribe(cmd.Context(), conn, subject, func(env nats.Envelope) {
				if err := enc.Encode(env); err != nil {
					logger.Warn("result_print_failed", "error", err)
				}
			}, func(err error) {
				logger.Warn("result_decode_failed", "error", err)
				fmt.Fprintf(errOut, "skipped malformed result: %v\n", err)
			})
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "subject to follow (default: NATS_SUBJECT)")
	return cmd
}
