// Package emitter publishes preview statistics and capture/card events to
// an MQTT broker.
package emitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/matsumoto-fabrica/cardmaker/internal/app"
)

// Topic suffixes under the configured prefix.
const (
	TopicStats   = "stats"
	TopicCapture = "capture"
	TopicCard    = "card"
)

const (
	queueSize      = 32
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ErrNotConnected is returned by Publish before Connect succeeded.
var ErrNotConnected = errors.New("mqtt not connected")

// Config contains emitter settings.
type Config struct {
	Broker      string // host:port or a full URL
	ClientID    string
	TopicPrefix string
	StatsEvery  time.Duration
	Logger      logrus.FieldLogger
}

// PublishFunc sends one payload to a topic.
type PublishFunc func(topic string, payload []byte) error

// Source is the application surface the emitter listens to.
type Source interface {
	OnPreviewUpdated(fn func(app.Update)) func()
	OnCapture(fn func(app.CaptureEvent))
	OnCard(fn func(app.CardEvent))
	Stats() app.Stats
}

type message struct {
	topic   string
	payload []byte
}

// Emitter queues events from the application and publishes them from its
// own goroutine so hooks never wait on the network.
type Emitter struct {
	cfg     Config
	log     logrus.FieldLogger
	publish PublishFunc
	client  mqtt.Client

	queue chan message
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	mu          sync.Mutex
	lastStats   time.Time
	published   map[string]uint64
	dropped     uint64
	errors      uint64
	unsubscribe func()
}

// Stats contains emitter statistics.
type Stats struct {
	Published map[string]uint64
	Dropped   uint64
	Errors    uint64
}

// New creates an emitter. With a nil publish func, Connect must be called
// before events are sent.
func New(cfg Config, publish PublishFunc) *Emitter {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.StatsEvery <= 0 {
		cfg.StatsEvery = time.Second
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")

	e := &Emitter{
		cfg:       cfg,
		log:       cfg.Logger.WithField("component", "emitter"),
		publish:   publish,
		queue:     make(chan message, queueSize),
		done:      make(chan struct{}),
		published: make(map[string]uint64),
	}
	e.wg.Add(1)
	go e.run()
	return e
}

// Connect establishes the broker connection and routes publishing through it.
func (e *Emitter) Connect() error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.log.WithField("broker", broker).Info("mqtt connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.log.WithError(err).WithField("broker", broker).Warn("mqtt connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.client = client
	e.publish = func(topic string, payload []byte) error {
		t := client.Publish(topic, 0, false, payload)
		if !t.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish timeout")
		}
		return t.Error()
	}
	e.mu.Unlock()
	return nil
}

// Attach subscribes the emitter to the source's hooks.
func (e *Emitter) Attach(src Source) {
	e.unsubscribe = src.OnPreviewUpdated(func(u app.Update) {
		e.mu.Lock()
		due := u.Timestamp.Sub(e.lastStats) >= e.cfg.StatsEvery
		if due {
			e.lastStats = u.Timestamp
		}
		e.mu.Unlock()
		if due {
			e.enqueue(TopicStats, newStatsMessage(u, src.Stats()))
		}
	})
	src.OnCapture(func(ev app.CaptureEvent) {
		e.enqueue(TopicCapture, newCaptureMessage(ev))
	})
	src.OnCard(func(ev app.CardEvent) {
		e.enqueue(TopicCard, newCardMessage(ev))
	})
}

// Topic returns the full topic for a suffix.
func (e *Emitter) Topic(suffix string) string {
	if e.cfg.TopicPrefix == "" {
		return suffix
	}
	return e.cfg.TopicPrefix + "/" + suffix
}

func (e *Emitter) enqueue(suffix string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		e.log.WithError(err).WithField("topic", suffix).Warn("failed to marshal event")
		return
	}

	select {
	case <-e.done:
		return
	default:
	}

	select {
	case e.queue <- message{topic: e.Topic(suffix), payload: payload}:
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
	}
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case m := <-e.queue:
			e.send(m)
		}
	}
}

func (e *Emitter) send(m message) {
	e.mu.Lock()
	publish := e.publish
	e.mu.Unlock()

	var err error
	if publish == nil {
		err = ErrNotConnected
	} else {
		err = publish(m.topic, m.payload)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.errors++
		e.log.WithError(err).WithField("topic", m.topic).Debug("publish failed")
		return
	}
	e.published[m.topic]++
}

// Stats returns emitter statistics.
func (e *Emitter) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Published: published,
		Dropped:   e.dropped,
		Errors:    e.errors,
	}
}

// Close stops publishing and disconnects from the broker. Queued events
// that have not been sent are discarded.
func (e *Emitter) Close() {
	e.once.Do(func() {
		if e.unsubscribe != nil {
			e.unsubscribe()
		}
		close(e.done)
		e.wg.Wait()

		e.mu.Lock()
		client := e.client
		e.mu.Unlock()
		if client != nil && client.IsConnected() {
			client.Disconnect(250)
			e.log.Info("mqtt disconnected")
		}
	})
}
