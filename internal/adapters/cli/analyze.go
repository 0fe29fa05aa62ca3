package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/cvclient/internal/adapters/console"
	"github.com/kirillkom/cvclient/internal/config"
	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
	"github.com/kirillkom/cvclient/internal/infrastructure/storage/localfs"
)

const chatPollInterval = 100 * time.Millisecond

var errBatchFailed = errors.New("batch analysis failed")

func newAnalyzeCommand(root *rootOptions) *cobra.Command {
	var (
		instruction string
		report      bool
		web         bool
		exportDir   string
		questions   []string
	)

	cmd := &cobra.Command{
		Use:   "analyze <paths...>",
		Short: "Upload files as one batch and print progress until it finishes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if exportDir != "" {
				cfg.ExportDir = exportDir
			}
			return runConsoleBatch(cmd.Context(), cmd, root, cfg, args, uploadOptions(cfg, instruction, report, web), questions)
		},
	}

	cmd.Flags().StringVarP(&instruction, "instruction", "i", "", "initial instruction sent with the batch")
	cmd.Flags().BoolVar(&report, "report", false, "ask the server to generate a report")
	cmd.Flags().BoolVar(&web, "web", false, "enable web search enrichment")
	cmd.Flags().StringVar(&exportDir, "export-dir", "", "write an .xlsx workbook of the results to this directory")
	cmd.Flags().StringArrayVarP(&questions, "ask", "a", nil, "follow-up question asked once the batch completes (repeatable)")
	return cmd
}

// runConsoleBatch uploads paths, renders the session as plain lines and asks
// each question in turn once the batch completes.
func runConsoleBatch(ctx context.Context, cmd *cobra.Command, root *rootOptions, cfg config.Config, paths []string, opts domain.UploadOptions, questions []string) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	files, errs := localfs.FilesFromPaths(paths)
	for _, err := range errs {
		fmt.Fprintf(errOut, "skipped: %v\n", err)
	}

	app, err := root.app(cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	app.ServeMetrics(ctx)

	added, ignored := app.Queue.Add(files...)
	if ignored > 0 {
		fmt.Fprintf(errOut, "%d file(s) ignored: only .pdf, .docx and .zip are accepted\n", ignored)
	}
	if added == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "analyze", errors.New("no supported files to upload"))
	}

	renderer := console.NewRenderer(out)
	session := app.NewSession(renderer.Sinks())
	defer session.Close()

	if err := session.StartBatch(ctx, app.Queue.Files(), opts); err != nil {
		return err
	}

	var final domain.BatchSession
	select {
	case final = <-renderer.Finished():
	case <-ctx.Done():
		return ctx.Err()
	}
	if final.Phase == domain.PhaseCompleted {
		app.Queue.Clear()
	}
	if app.Exporter != nil {
		for _, path := range app.Exporter.Written() {
			fmt.Fprintf(out, "Workbook written: %s\n", path)
		}
	}
	if final.Phase == domain.PhaseFailed {
		return errBatchFailed
	}

	for _, question := range questions {
		if err := session.SubmitChat(ctx, question); err != nil {
			return err
		}
		if err := waitChatIdle(ctx, session); err != nil {
			return err
		}
	}
	return nil
}

func waitChatIdle(ctx context.Context, svc ports.BatchSessionService) error {
	ticker := time.NewTicker(chatPollInterval)
	defer ticker.Stop()
	for svc.Snapshot().ChatInFlight {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
