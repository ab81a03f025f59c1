package companion

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"deskmate/internal/eventbus"
	"deskmate/internal/reminder"
	"deskmate/internal/router"
	logx "deskmate/pkg/logx"
)

const (
	usageAddEvent   = "Usage: /add_event YYYY-MM-DD HH:MM <content>"
	replyBadTime    = "Invalid time, use YYYY-MM-DD HH:MM"
	replyAddFailed  = "Failed to add event, please try again later"
	replyListFailed = "Failed to load events, please try again later"
)

var addEventArgs = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}\s+\d{2}:\d{2})\s+(.+)$`)

func (p *Plugin) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "add_event",
			Description: "add a one-shot reminder",
			Usage:       "/add_event YYYY-MM-DD HH:MM <content>",
			Handle:      p.handleAddEvent,
		},
		{
			Name:        "list_events",
			Description: "list this channel's reminders",
			Usage:       "/list_events",
			Handle:      p.handleListEvents,
		},
	}
}

func (p *Plugin) handleAddEvent(ctx context.Context, req *router.Request) error {
	p.Deps.Route.Set(req.ChannelID)

	m := addEventArgs.FindStringSubmatch(strings.TrimSpace(req.ArgText))
	if m == nil {
		return req.Reply(ctx, usageAddEvent)
	}
	displayTime := strings.Join(strings.Fields(m[1]), " ")

	p.mu.Lock()
	loc := p.set.loc
	p.mu.Unlock()

	ev, err := reminder.AddEvent(ctx, p.Deps.Store, req.ChannelID, displayTime, m[2], loc)
	if err != nil {
		var verr *reminder.ValidationError
		if errors.As(err, &verr) {
			if verr.Field == "display_time" {
				return req.Reply(ctx, replyBadTime)
			}
			return req.Reply(ctx, usageAddEvent)
		}
		req.Logger.Error("event create failed", logx.Err(err))
		return req.Reply(ctx, replyAddFailed)
	}

	if p.Deps.Metrics != nil {
		p.Deps.Metrics.EventCreated()
	}
	p.PublishEvent(eventbus.EventCreated, map[string]any{
		"event_id":     ev.ID,
		"channel_id":   ev.ChannelID,
		"display_time": ev.DisplayTime,
		"due_at":       ev.DueAt,
	})
	req.Logger.Info("event created", logx.String("event_id", ev.ID), logx.String("display_time", ev.DisplayTime))
	return req.Reply(ctx, reminder.FormatCreated(ev))
}

func (p *Plugin) handleListEvents(ctx context.Context, req *router.Request) error {
	p.Deps.Route.Set(req.ChannelID)

	events, err := reminder.ChannelEvents(ctx, p.Deps.Store, req.ChannelID)
	if err != nil {
		req.Logger.Error("event list failed", logx.Err(err))
		return req.Reply(ctx, replyListFailed)
	}
	return req.Reply(ctx, reminder.FormatEventList(events))
}
