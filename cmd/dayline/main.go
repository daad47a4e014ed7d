package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fernfall/dayline/internal/app"
	"github.com/fernfall/dayline/internal/domain"
	"github.com/fernfall/dayline/internal/platform/config"
	"github.com/fernfall/dayline/internal/platform/logging"
	"github.com/fernfall/dayline/internal/platform/migrations"
)

// exit codes per spec §6: 0 success, 1 configuration error, 2 runtime failure.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitRuntimeFailure = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: dayline <migrate|server|sync|transform|seed> [flags]")
		return exitConfigError
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitConfigError
	}
	log := logging.NewFromEnv("dayline")

	switch args[0] {
	case "migrate":
		return cmdMigrate(cfg)
	case "server":
		return cmdServer(cfg, log, args[1:])
	case "sync":
		return cmdSync(cfg, log, args[1:])
	case "transform":
		return cmdTransform(cfg, log, args[1:])
	case "seed":
		return cmdSeed(cfg, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		return exitConfigError
	}
}

func loadConfig() (config.Config, error) {
	path := os.Getenv("DAYLINE_CONFIG")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func cmdMigrate(cfg config.Config) int {
	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return exitRuntimeFailure
	}
	fmt.Println("migrations applied")
	return exitOK
}

func cmdServer(cfg config.Config, log *logging.Logger, args []string) int {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	addr := fs.String("addr", "", "HTTP listen address (defaults to $HTTP_BIND_ADDR or 0.0.0.0:8000)")
	redirectURL := fs.String("oauth-redirect-url", os.Getenv("OAUTH_REDIRECT_URL"), "OAuth callback URL registered with providers")
	postAuthURL := fs.String("post-auth-url", os.Getenv("POST_AUTH_URL"), "where the browser lands after a successful OAuth connect")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	listenAddr := *addr
	if listenAddr == "" {
		listenAddr = cfg.HTTPBindAddr
	}
	if listenAddr == "" {
		listenAddr = "0.0.0.0:8000"
	}

	a, err := app.New(cfg, log, *postAuthURL, *redirectURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize application: %v\n", err)
		return exitConfigError
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Scheduler.ScheduleCadences(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "schedule cadences: %v\n", err)
		return exitRuntimeFailure
	}
	if err := a.Scheduler.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "start scheduler: %v\n", err)
		return exitRuntimeFailure
	}

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           a.HTTP.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithContext(ctx).Infof("dayline listening on %s", listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		return exitRuntimeFailure
	case <-sigCh:
	}

	a.Scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		return exitRuntimeFailure
	}
	return exitOK
}

func cmdSync(cfg config.Config, log *logging.Logger, args []string) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	stream := fs.String("stream", "", "stream kind to sync (required)")
	// Flag parsing stops at the first non-flag argument, so a leading
	// source id is taken off before the flags that follow it are parsed.
	var rest []string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		rest, args = args[:1], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}
	rest = append(rest, fs.Args()...)
	if len(rest) != 1 || *stream == "" {
		fmt.Fprintln(os.Stderr, "usage: dayline sync <source_id> --stream=<stream_kind>")
		return exitConfigError
	}
	sourceID := rest[0]

	a, err := app.New(cfg, log, "", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize application: %v\n", err)
		return exitConfigError
	}
	defer a.Close()

	ctx := context.Background()
	job, err := a.Scheduler.EnqueueManual(ctx, domain.JobSync, domain.JobTarget{SourceID: sourceID, StreamKind: *stream})
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue sync: %v\n", err)
		return exitRuntimeFailure
	}
	fmt.Printf("enqueued sync job %s for %s/%s\n", job.ID, sourceID, *stream)
	return exitOK
}

func cmdTransform(cfg config.Config, log *logging.Logger, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: dayline transform <source_table> <target_table>")
		return exitConfigError
	}
	sourceTable, targetTable := args[0], args[1]

	a, err := app.New(cfg, log, "", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize application: %v\n", err)
		return exitConfigError
	}
	defer a.Close()

	ctx := context.Background()
	job, err := a.Scheduler.EnqueueManual(ctx, domain.JobTransform, domain.JobTarget{SourceTable: sourceTable, TargetTable: targetTable})
	if err != nil {
		fmt.Fprintf(os.Stderr, "enqueue transform: %v\n", err)
		return exitRuntimeFailure
	}
	fmt.Printf("enqueued transform job %s for %s -> %s\n", job.ID, sourceTable, targetTable)
	return exitOK
}

func cmdSeed(cfg config.Config, log *logging.Logger) int {
	a, err := app.New(cfg, log, "", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialize application: %v\n", err)
		return exitConfigError
	}
	defer a.Close()

	ctx := context.Background()
	sc, err := a.Gateway.CreateSource(ctx, domain.SourceConnection{
		Kind:        "ios",
		DisplayName: "Demo iPhone",
		Auth:        domain.AuthDevice,
		Active:      true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed demo source: %v\n", err)
		return exitRuntimeFailure
	}
	fmt.Printf("seeded demo source %s (kind=ios); sync it with: dayline sync %s --stream=healthkit\n", sc.ID, sc.ID)
	return exitOK
}
