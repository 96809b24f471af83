package source

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sunny-osprey/osprey/internal/event"
	"github.com/sunny-osprey/osprey/internal/metrics"
)

// Handler receives each parsed activity event, in broker delivery order.
type Handler func(*event.ActivityEvent)

// Config for the broker subscription.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

// MQTTSource subscribes to the detection subsystem's events topic and feeds
// each payload to the handler on the client's delivery goroutine, preserving
// per-topic order. Reconnects are automatic and resubscribe on connect, so a
// broker restart costs at most the events published while disconnected.
type MQTTSource struct {
	client  mqtt.Client
	topic   string
	handler Handler
	ready   atomic.Bool
}

func NewMQTTSource(cfg Config, handler Handler) *MQTTSource {
	s := &MQTTSource{topic: cfg.Topic, handler: handler}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// Subscribe inside the connect handler so reconnects restore it.
		tok := c.Subscribe(s.topic, 1, s.onMessage)
		go func() {
			tok.Wait()
			if err := tok.Error(); err != nil {
				log.Printf("[Source] Subscribe to %s failed: %v", s.topic, err)
				return
			}
			s.ready.Store(true)
			log.Printf("[Source] Subscribed to %s", s.topic)
		}()
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		s.ready.Store(false)
		log.Printf("[Source] Connection lost: %v (reconnecting)", err)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker. The initial connect blocks until it succeeds
// or times out; later reconnects are handled by the client.
func (s *MQTTSource) Start() error {
	tok := s.client.Connect()
	if !tok.WaitTimeout(30 * time.Second) {
		return fmt.Errorf("mqtt connect timed out")
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	evt, err := event.Parse(msg.Payload())
	if err != nil {
		log.Printf("[Source] Dropping unparseable payload on %s: %v", msg.Topic(), err)
		metrics.EventsTotal.WithLabelValues("rejected_parse").Inc()
		return
	}
	s.handler(evt)
}

// Ready reports whether the subscription is live. Exposed on the readiness
// endpoint so orchestration restarts a pod that cannot reach the broker.
func (s *MQTTSource) Ready() bool {
	return s.ready.Load()
}

// Stop unsubscribes and disconnects, letting in-flight handler calls finish.
func (s *MQTTSource) Stop() {
	s.ready.Store(false)
	if tok := s.client.Unsubscribe(s.topic); tok != nil {
		tok.WaitTimeout(5 * time.Second)
	}
	s.client.Disconnect(1000) // ms grace for in-flight publishes/acks
	log.Printf("[Source] Disconnected from broker")
}
