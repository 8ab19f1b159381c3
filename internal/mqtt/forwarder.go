// Package mqtt forwards meter snapshots to an MQTT broker.
//
// Every snapshot is published as one JSON object to
// <prefix>/<meter>/state, so a home automation system can read all
// channels of a frame from a single message. Connection state of each
// meter goes to <prefix>/<meter>/availability as "online" or "offline".
//
// <prefix>/status tracks the process itself and is the broker's last will,
// so it turns "offline" even when the process dies without closing. A
// per-meter availability topic cannot carry a will; consumers should treat
// a meter as available only while both its availability topic and the
// status topic read "online". A clean Close marks every meter offline.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/muurk/pulsemeter/internal/config"
	"github.com/muurk/pulsemeter/internal/meter"
)

const (
	connectTimeout = 10 * time.Second
	writeTimeout   = 5 * time.Second
	disconnectWait = 250 // milliseconds

	// maxPending bounds the publishes awaiting broker acknowledgement.
	maxPending = 256

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// publisher is the part of paho.Client the forwarder needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

type pendingPublish struct {
	topic string
	token paho.Token
}

// Forwarder implements meter.Publisher on top of an MQTT client. Publish
// never waits for the broker. One goroutine collects the acknowledgements
// and logs delivery failures.
type Forwarder struct {
	client publisher
	prefix string
	qos    byte
	retain bool
	logger *zap.Logger

	pending chan pendingPublish
	drained chan struct{}

	mu     sync.Mutex
	meters map[string]bool
	closed bool

	disconnect func()
}

// Dial connects to the broker described by cfg.
func Dial(cfg *config.MQTT, logger *zap.Logger) (*Forwarder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.TrimSuffix(cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = config.DefaultTopicPrefix
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = config.DefaultClientID
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(connectTimeout).
		SetWriteTimeout(writeTimeout).
		SetOrderMatters(false).
		SetWill(prefix+"/status", payloadOffline, cfg.QoS, true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("MQTT connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(c paho.Client) {
			logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
			c.Publish(prefix+"/status", cfg.QoS, true, payloadOnline)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(opts)
	if err := wait(client.Connect(), connectTimeout, "connect"); err != nil {
		return nil, err
	}

	f := newForwarder(client, prefix, cfg.QoS, cfg.Retain, logger)
	f.disconnect = func() {
		_ = wait(client.Publish(prefix+"/status", cfg.QoS, true, payloadOffline), writeTimeout, "publish status")
		client.Disconnect(disconnectWait)
	}
	return f, nil
}

func newForwarder(client publisher, prefix string, qos byte, retain bool, logger *zap.Logger) *Forwarder {
	f := &Forwarder{
		client:  client,
		prefix:  prefix,
		qos:     qos,
		retain:  retain,
		logger:  logger,
		pending: make(chan pendingPublish, maxPending),
		drained: make(chan struct{}),
		meters:  make(map[string]bool),
	}
	go f.drain()
	return f
}

// StateTopic returns the topic snapshots of meterID are published to.
func (f *Forwarder) StateTopic(meterID string) string {
	return fmt.Sprintf("%s/%s/state", f.prefix, topicSegment(meterID))
}

// AvailabilityTopic returns the topic carrying the connection state of meterID.
func (f *Forwarder) AvailabilityTopic(meterID string) string {
	return fmt.Sprintf("%s/%s/availability", f.prefix, topicSegment(meterID))
}

// Publish sends snap to the state topic of meterID.
func (f *Forwarder) Publish(meterID string, snap meter.Snapshot) {
	payload, err := StatePayload(snap)
	if err != nil {
		f.logger.Error("Failed to encode snapshot", zap.String("meter", meterID), zap.Error(err))
		return
	}
	f.send(f.StateTopic(meterID), f.retain, payload)
}

// SetAvailability publishes whether meterID is currently connected. It is
// always retained so late subscribers see the current state.
func (f *Forwarder) SetAvailability(meterID string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.meters[meterID] = online
	f.sendLocked(f.AvailabilityTopic(meterID), true, availability(online))
}

// Close marks every meter that was online as offline, waits for pending
// publishes and disconnects. Publishing after Close does nothing.
func (f *Forwarder) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	for id, online := range f.meters {
		if online {
			f.sendLocked(f.AvailabilityTopic(id), true, availability(false))
		}
	}
	f.closed = true
	close(f.pending)
	f.mu.Unlock()

	select {
	case <-f.drained:
	case <-time.After(writeTimeout):
		f.logger.Warn("MQTT publishes still pending at shutdown")
	}

	if f.disconnect != nil {
		f.disconnect()
	}
}

func (f *Forwarder) send(topic string, retain bool, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.sendLocked(topic, retain, payload)
}

// sendLocked publishes without waiting for the broker. When maxPending
// publishes are already unacknowledged, the delivery of this one is not
// tracked. f.mu must be held.
func (f *Forwarder) sendLocked(topic string, retain bool, payload []byte) {
	token := f.client.Publish(topic, f.qos, retain, payload)
	select {
	case f.pending <- pendingPublish{topic: topic, token: token}:
	default:
		f.logger.Warn("MQTT broker is slow, delivery not tracked", zap.String("topic", topic))
	}
}

func (f *Forwarder) drain() {
	defer close(f.drained)
	for p := range f.pending {
		if err := wait(p.token, writeTimeout, "publish "+p.topic); err != nil {
			f.logger.Warn("MQTT publish failed", zap.Error(err))
		}
	}
}

func availability(online bool) []byte {
	if online {
		return []byte(payloadOnline)
	}
	return []byte(payloadOffline)
}

// StatePayload encodes a snapshot as a flat JSON object: every channel by
// OBIS code, "gap" and "power" when present, the units under "units" and
// the snapshot time under "timestamp".
func StatePayload(snap meter.Snapshot) ([]byte, error) {
	doc := snap.Attributes()
	doc["timestamp"] = snap.Timestamp.UTC().Format(time.RFC3339Nano)
	if len(snap.Units) > 0 {
		doc["units"] = snap.Units
	}
	return json.Marshal(doc)
}

// topicSegment replaces characters that would change the topic structure.
func topicSegment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_").Replace(s)
}

func wait(t paho.Token, timeout time.Duration, tag string) error {
	if !t.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt %s: timeout after %s", tag, timeout)
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", tag, err)
	}
	return nil
}
