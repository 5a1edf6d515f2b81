// ABOUTME: Paho MQTT subscriber with ordered delivery and automatic reconnects
// ABOUTME: Resubscribes on every connect and stops on the first handler error

package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Reconnect backoff bounds.
const (
	MinReconnectDelay = 5 * time.Second
	MaxReconnectDelay = 60 * time.Second
)

// HandlerFunc processes one message payload.
type HandlerFunc func(ctx context.Context, topic string, payload []byte) error

// Config configures a Subscriber.
type Config struct {
	Host     string
	Port     int
	Topic    string
	QoS      byte
	ClientID string
	Username string
	Password string
}

// ClientID returns the default client id "<vsn>-<hostname>-<pid>".
func ClientID(vsn string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%d", vsn, host, os.Getpid())
}

// Subscriber feeds messages from one topic into a handler.
type Subscriber struct {
	cfg     Config
	handler HandlerFunc
	logger  *slog.Logger

	fatal     chan error
	fatalOnce sync.Once
	failed    atomic.Bool
}

// New creates a subscriber. It does not connect until Run.
func New(cfg Config, handler HandlerFunc, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "mqtt"),
		fatal:   make(chan error, 1),
	}
}

// options builds the paho client options. The topic is subscribed on every
// (re)connect and handlers run with ctx.
func (s *Subscriber) options(ctx context.Context) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", s.cfg.Host, s.cfg.Port))
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetOrderMatters(true)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(MinReconnectDelay)
	opts.SetMaxReconnectInterval(MaxReconnectDelay)

	opts.SetOnConnectHandler(func(c paho.Client) {
		s.logger.Info("connected to broker", "broker", opts.Servers[0].String(), "client_id", s.cfg.ClientID)
		token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage(ctx))
		go func() {
			token.Wait()
			if err := token.Error(); err != nil {
				s.stop(fmt.Errorf("subscribing to %s: %w", s.cfg.Topic, err))
				return
			}
			s.logger.Info("subscribed", "topic", s.cfg.Topic)
		}()
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		s.logger.Warn("connection to broker lost", "error", err)
	})
	opts.SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
		s.logger.Info("reconnecting to broker")
	})
	return opts
}

// onMessage returns the paho callback. Once a handler failed, later messages
// are dropped.
func (s *Subscriber) onMessage(ctx context.Context) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if s.stopped() {
			return
		}
		if err := s.handler(ctx, msg.Topic(), msg.Payload()); err != nil {
			s.stop(err)
		}
	}
}

func (s *Subscriber) stop(err error) {
	s.fatalOnce.Do(func() {
		s.failed.Store(true)
		s.fatal <- err
	})
}

func (s *Subscriber) stopped() bool {
	return s.failed.Load()
}

// Run connects and delivers messages until ctx is done or a handler fails.
// It returns nil on cancellation and the handler error otherwise.
func (s *Subscriber) Run(ctx context.Context) error {
	if s.cfg.Topic == "" {
		return errors.New("mqtt: topic is empty")
	}
	client := paho.NewClient(s.options(ctx))

	// With ConnectRetry the token completes only once connected.
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("connecting to broker: %w", err)
		}
	case <-ctx.Done():
		client.Disconnect(250)
		return nil
	}

	var err error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down subscriber")
	case err = <-s.fatal:
		s.logger.Error("stopping subscriber", "error", err)
	}

	client.Disconnect(250)
	return err
}
