package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coderoom-dev/roomsync/internal/logging"
	"github.com/coderoom-dev/roomsync/internal/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local status server without joining a room",
	Long: `Run the local read-only status server on its own. The session
connects to the collaboration server but does not join a room; use the
/events stream and the query endpoints to observe connection state, or
join later from another process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to statusAddr from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.StatusAddr
	}
	if addr == "" {
		addr = "127.0.0.1:7171"
	}

	sess := buildSession(cfg)
	defer sess.Channel().Close()
	defer sess.Close()

	srv := server.New(server.DefaultConfig(addr), sess)
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("status server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
