package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"board-sync/api"
	"board-sync/broadcast"
	"board-sync/config"
	"board-sync/domain"
	"board-sync/loadtest"
	"board-sync/opsreport"
	"board-sync/processor"
	"board-sync/storage"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string
	cmd := &cobra.Command{
		Use:          "board-sync",
		Short:        "Real-time collaborative task board server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	cmd.Flags().Int("port", 9000, "listen port (PORT)")
	cmd.Flags().Bool("debug", false, "enable debug logging (DEBUG)")
	_ = v.BindPFlag(config.KeyPort, cmd.Flags().Lookup("port"))
	_ = v.BindPFlag(config.KeyDebug, cmd.Flags().Lookup("debug"))
	cmd.AddCommand(newWatchCmd(v, &cfgFile), newLoadCmd(), newReportCmd())
	return cmd
}

// newWatchCmd follows the Redis update feed of a running server and logs a
// summary of the mirrored board after every delta.
func newWatchCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the board update feed published to Redis",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, *cfgFile)
			if err != nil {
				return err
			}
			if cfg.RedisConnectionString == "" {
				return errors.New("watch requires REDIS_CONNECTION_STRING")
			}
			logger, logCloser := config.NewLogger(cfg)
			defer logCloser.Close()

			redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
			if err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			rc := redis.NewClient(redisOpts)
			defer rc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var replica domain.Board
			return storage.WatchFeed(ctx, rc, cfg.UpdatesChannel, cfg.SnapshotKey, logger, storage.FeedHandler{
				OnSnapshot: func(b domain.Board) {
					replica = b
					logger.WithField("tasks", replica.Len()).Info("board snapshot loaded")
				},
				OnMessage: func(m storage.FeedMessage) {
					replica = domain.ApplyDelta(replica, m.Data)
					logger.WithFields(log.Fields{
						"event":    m.Event,
						"revision": m.Revision,
						"stats":    domain.Summarize(replica.Counts()),
					}).Info("board updated")
				},
			})
		},
	}
}

// newLoadCmd opens stream sessions and writers against a running server and
// fails when no events arrive or more than 1% of connections fail.
func newLoadCmd() *cobra.Command {
	var opts loadtest.Options
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Hold stream sessions open and cycle tasks against a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := log.New()
			opts.Logger = logger
			res, err := loadtest.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			logger.WithFields(log.Fields{
				"streams":             res.Streams,
				"writers":             res.Writers,
				"duration_sec":        int(res.Duration.Seconds()),
				"events_received":     res.Events,
				"connection_failures": res.Failures,
				"operations":          res.Operations,
				"operation_errors":    res.OperationErrors,
			}).Info("load run finished")
			if res.Events == 0 {
				return errors.New("no events received")
			}
			if rate := res.FailureRate(); rate > 0.01 {
				return fmt.Errorf("connection failure rate %.2f%% exceeds 1%%", rate*100)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.BaseURL, "url", "http://localhost:9000", "server base url")
	cmd.Flags().IntVar(&opts.Streams, "streams", 200, "concurrent /stream sessions")
	cmd.Flags().IntVar(&opts.Writers, "writers", 2, "concurrent WebSocket writers")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 2*time.Minute, "run length")
	return cmd
}

// newReportCmd summarizes operation metrics entries from a JSON log file, or
// stdin when no file is given.
func newReportCmd() *cobra.Command {
	var outPath, message string
	cmd := &cobra.Command{
		Use:   "report [log-file]",
		Short: "Summarize operation metrics from JSON logs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			c := opsreport.NewCollector(message)
			if _, err := c.ReadFrom(in); err != nil {
				return fmt.Errorf("read logs: %w", err)
			}
			summary := c.Summary()
			if outPath != "" {
				data, err := sonic.ConfigStd.MarshalIndent(summary, "", "  ")
				if err != nil {
					return err
				}
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return fmt.Errorf("create output directory: %w", err)
				}
				if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
					return fmt.Errorf("write summary: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary.ShortString())
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "write the JSON summary to this path")
	cmd.Flags().StringVar(&message, "message", opsreport.DefaultMessage, "log message of the metrics entries")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger, logCloser := config.NewLogger(cfg)
	defer logCloser.Close()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer shutdown")
		}
	}()

	store := storage.New()
	var deduper api.Deduper = storage.NewMemoryDeduper(cfg.DeduperTTL)
	hub := broadcast.New(processor.New(store), store, logger, broadcast.Options{
		SessionBuffer: cfg.SessionBuffer,
	})

	if cfg.RedisConnectionString != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		rc := redis.NewClient(redisOpts)
		defer rc.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rc.Ping(pingCtx).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable at startup; continuing")
		}
		cancel()

		deduper = storage.NewRedisDeduper(rc, cfg.DeduperTTL)
		feed := storage.NewRedisFeed(rc, hub, cfg.UpdatesChannel, cfg.SnapshotKey, cfg.FeedBuffer, logger)
		feed.Start()
		defer feed.Close()
		hub.AddObserver(feed)
	} else {
		logger.Info("REDIS_CONNECTION_STRING not set; using in-memory deduper and no update feed")
	}

	e := newServer(cfg, hub, store, deduper, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		logger.WithFields(log.Fields{"addr": cfg.Addr(), "redis": cfg.RedisConnectionString != ""}).Info("board-sync listening")
		if err := e.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		hub.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newServer(cfg config.Config, hub *broadcast.Coordinator, store *storage.Store, deduper api.Deduper, logger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderContentEncoding},
	}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem: "board_sync",
		// Long-lived streams would only skew the latency histograms.
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/ws" || c.Path() == "/stream"
		},
	}))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, hub, store, deduper, logger, api.Options{
		WriteTimeout:    cfg.WriteTimeout,
		PingInterval:    cfg.PingInterval,
		MaxMessageBytes: cfg.MaxMessageBytes,
		MaxCommandBytes: cfg.MaxCommandBytes,
		OriginPatterns:  cfg.AllowedOrigins,
	})
	return e
}
