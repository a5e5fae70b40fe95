// Command oggaac converts Ogg audio files to ADTS-framed AAC-LC.
//
//	oggaac [-config file] [-env file] convert [-bitrate n] [-priority speed|quality] <input> <output>
//	oggaac [-config file] [-env file] serve
//	oggaac inspect <file.aac>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/satindergrewal/oggaac/internal/config"
	"github.com/satindergrewal/oggaac/internal/convert"
	"github.com/satindergrewal/oggaac/internal/observe"
	"github.com/satindergrewal/oggaac/internal/server"
	"github.com/satindergrewal/oggaac/internal/stream"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("oggaac", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to an optional YAML configuration file")
	envFile := fs.String("env", ".env", "dotenv file loaded into the environment when present")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: oggaac [flags] convert|serve|inspect [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	if cmd == "inspect" {
		return runInspect(rest, stdout, stderr)
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(stderr, "oggaac: %v\n", err)
		return 1
	}
	if err := observe.SetupLogging(stderr, cfg.Log.Format, cfg.Log.Level); err != nil {
		fmt.Fprintf(stderr, "oggaac: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "convert":
		return runConvert(ctx, cfg, rest, stdout, stderr)
	case "serve":
		if err := serve(ctx, cfg); err != nil {
			slog.Error("serve failed", "err", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(stderr, "oggaac: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
}

func runConvert(ctx context.Context, cfg config.Config, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(stderr)
	bitRate := fs.Int("bitrate", 0, "target bit rate in bits per second (default from config)")
	priority := fs.String("priority", "quality", `"speed" or "quality"`)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(stderr, "usage: oggaac convert [-bitrate n] [-priority speed|quality] <input> <output>")
		return 2
	}

	conv, _, err := buildConverter(cfg, nil)
	if err != nil {
		fmt.Fprintf(stderr, "oggaac: %v\n", err)
		return 1
	}
	res, err := conv.Convert(ctx, convert.Request{
		InputPath:       fs.Arg(0),
		OutputPath:      fs.Arg(1),
		BitRate:         *bitRate,
		PrioritizeSpeed: convert.PriorityFromString(*priority),
	})
	if err != nil {
		fmt.Fprintf(stderr, "oggaac: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg config.Config) error {
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	metrics := observe.DefaultMetrics()
	conv, info, err := buildConverter(cfg, metrics)
	if err != nil {
		return err
	}
	info.Version = version

	worker := convert.NewWorker(conv, cfg.Convert.QueueSize, metrics)
	srv := server.New(worker, stream.NewBroadcaster(), metrics, info)
	worker.OnReport = srv.Report

	httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("oggaac listening", "addr", cfg.Server.Addr, "encoder", info.Encoder, "decoders", info.Decoders)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}
