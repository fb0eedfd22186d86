package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/0MATRIX0/agent-connect/api/handlers"
	"github.com/0MATRIX0/agent-connect/internal/config"
	"github.com/0MATRIX0/agent-connect/internal/db"
	"github.com/0MATRIX0/agent-connect/internal/logging"
	"github.com/0MATRIX0/agent-connect/internal/notify"
	"github.com/0MATRIX0/agent-connect/internal/repository"
	"github.com/0MATRIX0/agent-connect/internal/session"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}

// pushSender resolves the VAPID identity. It returns a nil Sender when push
// is disabled so the dispatcher only fills the inbox.
func pushSender(cfg *config.Config) (notify.Sender, string, error) {
	if cfg.Push.Disabled {
		return nil, "", nil
	}

	pub, priv := cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey
	if pub == "" {
		keys, generated, err := notify.EnsureVAPIDKeys(cfg.DataDir)
		if err != nil {
			return nil, "", err
		}
		if generated {
			log := logging.For(logging.CompNotify)
			log.Info().
				Str("dir", cfg.DataDir).
				Msg("generated new VAPID keys; browsers must subscribe again")
		}
		pub, priv = keys.PublicKey, keys.PrivateKey
	}

	sender, err := notify.NewVAPIDSender(pub, priv, cfg.Push.Subject)
	if err != nil {
		return nil, "", err
	}
	return sender, sender.PublicKey(), nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := logging.Init(logging.Config{
		Level:      cfg.Log.Level,
		Dev:        cfg.Log.Dev,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Close()
	log := logging.For(logging.CompServer)

	database, err := db.InitDB(cfg.DBPath())
	if err != nil {
		return err
	}
	defer db.CloseDB()

	projects := repository.NewProjectRepository(database)
	inbox := repository.NewNotificationRepository(database)
	subs := repository.NewSubscriptionRepository(database)

	sender, publicKey, err := pushSender(cfg)
	if err != nil {
		return fmt.Errorf("push setup: %w", err)
	}
	dispatcher := notify.NewDispatcher(inbox, subs, sender)

	manager := session.NewManager(session.Config{
		Command:          cfg.Agent.Command,
		Args:             cfg.Agent.Args,
		Env:              cfg.Agent.Env,
		Cols:             cfg.Agent.Cols,
		Rows:             cfg.Agent.Rows,
		ScrollbackChunks: cfg.Sessions.ScrollbackChunks,
		StopGrace:        cfg.Sessions.StopGrace,
		StoppedTTL:       cfg.Sessions.StoppedTTL,
		RecordDir:        cfg.RecordDir(),
		PromptInterval:   cfg.Sessions.PromptInterval,
	}, projects, dispatcher)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go manager.Run(ctx)

	if !cfg.Log.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.Deps{
		Sessions:        manager,
		Projects:        projects,
		Notifications:   inbox,
		Subscriptions:   subs,
		Dispatcher:      dispatcher,
		VAPIDPublicKey:  publicKey,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		NotifyPerMinute: cfg.Server.NotifyPerMinute,
		RecordDir:       cfg.RecordDir(),
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("agent", cfg.Agent.Command).
			Bool("push", sender != nil).
			Msg("starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		manager.CleanupAll()
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdown(srv, manager, shutdownTimeout)
	return nil
}

type sessionCleaner interface {
	CleanupAll()
}

// shutdown sends SIGTERM to every session and then drains the HTTP server.
// Shutdown does not track hijacked websocket connections; a viewer is only
// closed once its session's process exits and the hub sends the exit frame.
func shutdown(srv *http.Server, sessions sessionCleaner, timeout time.Duration) {
	sessions.CleanupAll()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log := logging.For(logging.CompServer)
		log.Warn().Err(err).Msg("graceful shutdown timed out")
	}
}
