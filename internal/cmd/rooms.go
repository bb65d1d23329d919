package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yhkim-dev/brandtalk/api"
	"github.com/yhkim-dev/brandtalk/inbox"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the brand's chat rooms, unanswered first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		client := api.New(cfg.ServerURL, cfg.BrandID, cfg.Headers())
		ib := inbox.New(client, cfg.BrandID)
		if err := ib.Refresh(ctx); err != nil {
			return err
		}

		for _, room := range ib.Rooms() {
			marker := " "
			if room.AwaitingReply() {
				marker = "*"
			}
			fmt.Printf("%s %-12s %-16s %s\n",
				marker, room.RoomID, room.CustomerName, room.LatestChat.Text)
		}
		fmt.Printf("%d waiting\n", ib.Waiting())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}
