package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yungbote/docretrieval-backend/internal/app"
)

var (
	serveAddr       string
	serveWithWorker bool
)

var rootCmd = &cobra.Command{
	Use:           "docretrieval",
	Short:         "Document ingestion and retrieval service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE:  runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job dispatcher without the HTTP API",
	RunE:  runWorker,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return app.Migrate()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to HTTP_ADDR or :8080)")
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "also run the job dispatcher in this process")
	rootCmd.AddCommand(serveCmd, workerCmd, migrateCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx, app.StartOptions{Workers: serveWithWorker}); err != nil {
		return err
	}
	return a.Run(ctx, serveAddr)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx, app.StartOptions{Workers: true}); err != nil {
		return err
	}
	a.Log.Info("Job dispatcher running", "mode", a.Cfg.Jobs.DispatchMode)
	<-ctx.Done()
	a.Log.Info("Shutting down job dispatcher")
	return nil
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
