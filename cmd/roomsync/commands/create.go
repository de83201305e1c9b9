package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new room",
	Long: `Create a new room on the collaboration server. The caller becomes
the room's owner. Prints the new room id on success.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sess := buildSession(cfg)
	defer sess.Channel().Close()
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RoomCreateTimeout.Std())
	defer cancel()

	roomID, err := sess.CreateRoom(ctx, args[0])
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	fmt.Println(roomID)
	return nil
}
