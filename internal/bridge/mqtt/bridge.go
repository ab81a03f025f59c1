// Package mqtt mirrors event bus traffic to an MQTT broker so home
// automation or dashboards can follow reminders as they fire.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"deskmate/internal/eventbus"
	logx "deskmate/pkg/logx"
)

type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	QoS            byte
	Retained       bool
	ConnectTimeout time.Duration
}

// client is the subset of paho.Client the bridge uses.
type client interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newClient = func(opts *paho.ClientOptions) client { return paho.NewClient(opts) }

type Bridge struct {
	cfg Config
	bus eventbus.Bus
	log logx.Logger
	cli client
}

func New(cfg Config, bus eventbus.Bus, log logx.Logger) *Bridge {
	if strings.TrimSpace(cfg.TopicPrefix) == "" {
		cfg.TopicPrefix = "deskmate"
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = "deskmate-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Bridge{cfg: cfg, bus: bus, log: log}
}

func (b *Bridge) options() *paho.ClientOptions {
	opts := paho.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetConnectTimeout(b.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
	}
	if b.cfg.Password != "" {
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetOnConnectHandler(func(paho.Client) {
		b.log.Info("mqtt connected", logx.String("broker", b.cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.log.Warn("mqtt connection lost", logx.Err(err))
	})
	return opts
}

// Topic returns the topic an event type is published on.
func (b *Bridge) Topic(eventType string) string {
	return b.cfg.TopicPrefix + "/" + eventType
}

// Run connects and forwards bus events until ctx is done. With connect
// retry enabled paho keeps dialling in the background, so a broker that is
// down at startup does not fail the bridge.
func (b *Bridge) Run(ctx context.Context) error {
	b.cli = newClient(b.options())
	tok := b.cli.Connect()
	if !tok.WaitTimeout(b.cfg.ConnectTimeout) {
		b.log.Warn("mqtt connect pending; retrying in background", logx.String("broker", b.cfg.Broker))
	} else if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	defer b.cli.Disconnect(250)

	events, unsubscribe := b.bus.Subscribe(64, "")
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := b.publish(ev); err != nil {
				b.log.Debug("mqtt publish failed", logx.String("type", ev.Type), logx.Err(err))
			}
		}
	}
}

func (b *Bridge) publish(ev eventbus.Event) error {
	if !b.cli.IsConnected() {
		return fmt.Errorf("not connected")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	tok := b.cli.Publish(b.Topic(ev.Type), b.cfg.QoS, b.cfg.Retained, payload)
	if !tok.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	return tok.Error()
}
