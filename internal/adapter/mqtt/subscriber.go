package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/climbox/telemetry-engine/internal/domain"
	"github.com/climbox/telemetry-engine/internal/observability"
)

// RowApplier receives decoded live rows for one location.
type RowApplier interface {
	ApplyLive(ctx context.Context, locationID string, rows []domain.RawRecord) int
}

// Config holds the broker connection and topic layout.
type Config struct {
	BrokerURL       string
	ClientID        string
	Username        string
	Password        string
	TopicBase       string
	Locations       []string
	Wildcard        bool // subscribe {base}/+/latest instead of {base}/{loc}/#
	ReconnectPeriod time.Duration
}

// Subscriber bridges the live MQTT feed into the reconciler. Subscriptions
// are re-established from the OnConnect handler, so every reconnect renews
// them without extra bookkeeping.
type Subscriber struct {
	cfg     Config
	applier RowApplier
	logger  *slog.Logger
	metrics *observability.Metrics
	client  pahomqtt.Client

	// runCtx carries the Run context into message handlers, which paho
	// invokes without one.
	runCtx context.Context
}

// NewSubscriber creates a Subscriber; Connect happens in Run.
func NewSubscriber(cfg Config, applier RowApplier, logger *slog.Logger, metrics *observability.Metrics) *Subscriber {
	return &Subscriber{
		cfg:     cfg,
		applier: applier,
		logger:  logger,
		metrics: metrics,
	}
}

// topics returns the subscription set for the configured layout.
func (s *Subscriber) topics() []string {
	if s.cfg.Wildcard {
		return []string{fmt.Sprintf("%s/+/latest", s.cfg.TopicBase)}
	}
	out := make([]string, 0, len(s.cfg.Locations))
	for _, loc := range s.cfg.Locations {
		out = append(out, fmt.Sprintf("%s/%s/#", s.cfg.TopicBase, loc))
	}
	return out
}

// Run connects to the broker and serves messages until the context is
// cancelled. Broker outages are ridden out by paho's auto-reconnect; Run
// only returns on cancellation or when the initial connect fails.
func (s *Subscriber) Run(ctx context.Context) error {
	s.runCtx = ctx

	opts := pahomqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL).
		SetClientID(s.cfg.ClientID).
		SetUsername(s.cfg.Username).
		SetPassword(s.cfg.Password).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(s.cfg.ReconnectPeriod).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(s.onConnectionLost)

	s.client = pahomqtt.NewClient(opts)

	token := s.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect mqtt broker %s: %w", s.cfg.BrokerURL, err)
	}

	<-ctx.Done()
	s.logger.Info("mqtt subscriber stopping", "reason", ctx.Err())
	s.client.Disconnect(250)
	s.metrics.MQTTConnected.Set(0)
	return nil
}

func (s *Subscriber) onConnect(client pahomqtt.Client) {
	s.metrics.MQTTConnected.Set(1)
	for _, topic := range s.topics() {
		token := client.Subscribe(topic, 0, s.handleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("mqtt subscribe failed", "topic", topic, "error", err)
			continue
		}
		s.logger.Info("mqtt subscribed", "topic", topic)
	}
}

func (s *Subscriber) onConnectionLost(_ pahomqtt.Client, err error) {
	s.metrics.MQTTConnected.Set(0)
	s.logger.Warn("mqtt connection lost", "error", err)
}

func (s *Subscriber) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	s.metrics.LiveMessages.Inc()

	body := msg.Payload()
	rows, err := DecodePayload(body)
	if err != nil {
		s.metrics.LiveMessagesDiscarded.Inc()
		s.logger.Warn("dropping unusable live message",
			"topic", msg.Topic(), "bytes", len(body), "error", err)
		return
	}

	locationID := LocationFromPayload(body)
	if locationID == "" {
		locationID = LocationFromTopic(msg.Topic(), s.cfg.TopicBase)
	}
	if !domain.ValidLocationID(locationID) {
		s.metrics.LiveMessagesDiscarded.Inc()
		s.logger.Warn("dropping live message without a usable location",
			"topic", msg.Topic(), "location", locationID)
		return
	}

	applied := s.applier.ApplyLive(s.runCtx, locationID, rows)
	s.logger.Debug("live message applied",
		"topic", msg.Topic(), "location", locationID,
		"rows", len(rows), "applied", applied)
}
