package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/oharu121/discord-gemini-bot/internal/bot"
	"github.com/oharu121/discord-gemini-bot/internal/config"
	"github.com/oharu121/discord-gemini-bot/internal/gemini"
	"github.com/oharu121/discord-gemini-bot/internal/rag"
	"github.com/oharu121/discord-gemini-bot/internal/router"
	"github.com/oharu121/discord-gemini-bot/internal/status"
)

var (
	verbose    bool
	configPath string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "bot",
	Short: "Discord bot routing messages to Gemini text, image, and video generation",
	Long: `A Discord bot that answers mentions and DMs with Google Gemini.

Prompts are routed by intent: video requests go to Veo, image requests to
Gemini image generation, and everything else to text generation with vision
support and sliding-window conversation context. The /ask slash command
streams answers with source citations from a retrieval backend.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: run,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "bot.yaml", "path to optional config file")
	rootCmd.SilenceUsage = true
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen, err := gemini.NewClient(ctx, cfg.GoogleAPIKey, cfg.UseGrounding, logger)
	if err != nil {
		return err
	}

	var rt router.Router
	if cfg.UseFunctionCalling {
		rt = router.NewFunctionCallingRouter(gen)
		logger.Info("using function-calling router (AI-powered intent detection)")
	} else {
		rt = router.KeywordRouter{}
		logger.Info("using keyword router (keyword-based intent detection)")
	}

	ragClient := rag.NewClient(cfg.RAGAPIURL, logger)

	session, err := bot.NewSession(cfg.DiscordToken, gen, rt, ragClient, logger)
	if err != nil {
		return err
	}

	record := &status.Record{}
	record.MarkStarted()
	srv := &http.Server{Addr: cfg.StatusAddr, Handler: record.Handler()}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return session.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("status server listening", zap.String("addr", cfg.StatusAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		record.SetError(err)
		return err
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
