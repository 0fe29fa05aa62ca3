// Package cli is the cvclient command tree.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kirillkom/cvclient/internal/adapters/tui"
	"github.com/kirillkom/cvclient/internal/bootstrap"
	"github.com/kirillkom/cvclient/internal/config"
	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
	"github.com/kirillkom/cvclient/internal/core/usecase"
	"github.com/kirillkom/cvclient/internal/infrastructure/storage/localfs"
)

type rootOptions struct {
	configPath string
	serverURL  string
	logLevel   string
	noUI       bool
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, err
	}
	if o.serverURL != "" {
		cfg.ServerURL = o.serverURL
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (o *rootOptions) app(cfg config.Config) (*bootstrap.App, error) {
	return bootstrap.New(cfg)
}

// NewRootCommand builds the command tree. Running the root command with a
// terminal opens the interactive client; otherwise it analyzes the given paths.
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "cvclient [paths...]",
		Short:         "Batch resume analysis client",
		Long:          "Upload resumes (.pdf, .docx, .zip) to the analysis service, follow the batch live and ask follow-up questions.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if !shouldUseUI(isInteractiveTerminal(), opts.noUI) {
				if len(args) == 0 {
					return errors.New("no files given: pass paths to analyze or run in an interactive terminal")
				}
				return runConsoleBatch(cmd.Context(), cmd, opts, cfg, args, uploadOptions(cfg, "", false, false), nil)
			}
			return runInteractive(cmd.Context(), opts, cfg, args)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default: $CVCLIENT_CONFIG)")
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "",
		"analysis service base URL (overrides config)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&opts.noUI, "no-ui", false,
		"disable the interactive interface and print plain lines")

	root.AddCommand(
		newAnalyzeCommand(opts),
		newChatCommand(opts),
		newContentCommand(opts),
		newDownloadCommand(opts),
		newResultsCommand(opts),
		newVersionCommand(version),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, version string) error {
	// Query the background color before bubbletea owns the input stream.
	_ = lipgloss.HasDarkBackground()
	return NewRootCommand(version).ExecuteContext(ctx)
}

func runInteractive(ctx context.Context, opts *rootOptions, cfg config.Config, paths []string) error {
	app, err := opts.app(cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	app.ServeMetrics(ctx)

	if len(paths) > 0 {
		files, errs := localfs.FilesFromPaths(paths)
		for _, err := range errs {
			app.Logger.Warn("queue_path_skipped", "error", err)
		}
		app.Queue.Add(files...)
	}

	var session *usecase.BatchController
	err = tui.Run(ctx, func(sinks ports.Sinks) (tui.Deps, error) {
		session = app.NewSession(sinks)
		return tui.Deps{
			Service: session,
			Content: app.Content,
			Queue:   app.Queue,
			Load:    localfs.FilesFromPaths,
			Options: uploadOptions(cfg, "", false, false),
		}, nil
	})
	if session != nil {
		session.Close()
	}
	if err != nil {
		return fmt.Errorf("interactive client: %w", err)
	}
	return nil
}

func uploadOptions(cfg config.Config, instruction string, report, web bool) domain.UploadOptions {
	return domain.UploadOptions{
		GenerateReport: cfg.GenerateReport || report,
		WebSearch:      cfg.WebSearch || web,
		Instruction:    instruction,
	}
}
