package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coderoom-dev/roomsync/internal/event"
	"github.com/coderoom-dev/roomsync/internal/logging"
	"github.com/coderoom-dev/roomsync/internal/server"
)

var joinStatusAddr string

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room and keep its state synchronized",
	Long: `Join a room and keep the local replica of its file tree, presence
roster and documents synchronized until interrupted.

When --status-addr is set (or statusAddr in the config), a local
read-only HTTP server exposes the replica to editor plugins and
dashboards.`,
	Args: cobra.ExactArgs(1),
	RunE: runJoin,
}

func init() {
	joinCmd.Flags().StringVar(&joinStatusAddr, "status-addr", "", "Listen address for the local status server")
}

func runJoin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	roomID := args[0]

	sess := buildSession(cfg)
	defer sess.Channel().Close()
	defer sess.Close()

	logActivity(sess.Bus())

	if err := sess.Join(context.Background(), roomID); err != nil {
		return err
	}

	statusAddr := joinStatusAddr
	if statusAddr == "" {
		statusAddr = cfg.StatusAddr
	}
	var statusSrv *server.Server
	if statusAddr != "" {
		statusSrv = server.New(server.DefaultConfig(statusAddr), sess)
		go func() {
			logging.Info().Str("addr", statusAddr).Msg("status server listening")
			if err := statusSrv.Start(); err != nil && err != http.ErrServerClosed {
				logging.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")
	if statusSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := statusSrv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("status server shutdown")
		}
	}
	return nil
}

// logActivity mirrors room activity into the log so a headless join is
// observable.
func logActivity(bus *event.Bus) {
	bus.Subscribe(event.RoomSnapshot, func(e event.Event) {
		if d, ok := e.Data.(event.RoomSnapshotData); ok {
			logging.Info().
				Str("roomId", d.Snapshot.RoomID).
				Str("name", d.Snapshot.Room.Name).
				Int("members", len(d.Snapshot.Members)).
				Msg("room ready")
		}
	})
	bus.Subscribe(event.FSNodeUpsert, func(e event.Event) {
		if d, ok := e.Data.(event.FSNodeUpsertData); ok {
			logging.Info().Str("path", d.Node.Path).Msg("tree updated")
		}
	})
	bus.Subscribe(event.FSNodeRemove, func(e event.Event) {
		if d, ok := e.Data.(event.FSNodeRemoveData); ok {
			logging.Info().Str("id", d.ID).Msg("tree node removed")
		}
	})
	bus.Subscribe(event.PresenceJoin, func(e event.Event) {
		if d, ok := e.Data.(event.PresenceJoinData); ok {
			logging.Info().Str("user", d.User.Name).Msg("user joined")
		}
	})
	bus.Subscribe(event.PresenceLeave, func(e event.Event) {
		if d, ok := e.Data.(event.PresenceLeaveData); ok {
			logging.Info().Str("userId", d.UserID).Msg("user left")
		}
	})
	bus.Subscribe(event.RoomJoinRequest, func(e event.Event) {
		if d, ok := e.Data.(event.RoomJoinRequestData); ok {
			logging.Info().
				Str("userId", d.Request.UserID).
				Str("name", d.Request.Name).
				Msg("join request pending")
		}
	})
	bus.Subscribe(event.RoomError, func(e event.Event) {
		if d, ok := e.Data.(event.RoomErrorData); ok {
			logging.Warn().Str("code", d.Code).Msg(d.Message)
		}
	})
}
