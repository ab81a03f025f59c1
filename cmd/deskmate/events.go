package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"deskmate/internal/app"
	"deskmate/internal/config"
	"deskmate/internal/plugin/builtin/companion"
	"deskmate/internal/reminder"
	"deskmate/internal/storage"
	logx "deskmate/pkg/logx"
)

var eventsChannel string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and add reminder events without running the companion",
}

var eventsAddCmd = &cobra.Command{
	Use:   "add YYYY-MM-DD HH:MM <content...>",
	Short: "Add a reminder event",
	Args:  cobra.MinimumNArgs(3),
	RunE:  runEventsAdd,
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a channel's events",
	Args:  cobra.NoArgs,
	RunE:  runEventsList,
}

func init() {
	eventsCmd.PersistentFlags().StringVar(&eventsChannel, "channel", "", "channel id (defaults to the companion's default target)")
	eventsCmd.AddCommand(eventsAddCmd, eventsListCmd)
	rootCmd.AddCommand(eventsCmd)
}

// withStore opens the configured store and resolves the channel and timezone
// the companion plugin would use.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store reminder.EventStore, channel string, loc *time.Location) error) error {
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	raw := cfg.Plugins[companion.Name].Config
	loc, err := companion.Location(raw)
	if err != nil {
		return fmt.Errorf("plugins.%s: %w", companion.Name, err)
	}
	channel := strings.TrimSpace(eventsChannel)
	if channel == "" {
		channel, err = companion.DefaultChannel(raw)
		if err != nil {
			return fmt.Errorf("plugins.%s: %w", companion.Name, err)
		}
	}
	if channel == "" {
		return fmt.Errorf("no channel: pass --channel or set plugins.%s.config.target.default_channel_id", companion.Name)
	}

	if strings.EqualFold(strings.TrimSpace(cfg.Storage.Driver), "memory") {
		return fmt.Errorf("storage.driver memory keeps events inside the daemon; use /add_event there")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	store, err := app.OpenStore(ctx, cfg, logx.NewConsole("warn"))
	if errors.Is(err, storage.ErrInUse) {
		return fmt.Errorf("event store is held by a running daemon; use /add_event there: %w", err)
	}
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(ctx, store, channel, loc)
}

func runEventsAdd(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store reminder.EventStore, channel string, loc *time.Location) error {
		display := args[0] + " " + args[1]
		ev, err := reminder.AddEvent(ctx, store, channel, display, strings.Join(args[2:], " "), loc)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reminder.FormatCreated(ev))
		return nil
	})
}

func runEventsList(cmd *cobra.Command, _ []string) error {
	return withStore(cmd, func(ctx context.Context, store reminder.EventStore, channel string, _ *time.Location) error {
		events, err := reminder.ChannelEvents(ctx, store, channel)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reminder.FormatEventList(events))
		return nil
	})
}
