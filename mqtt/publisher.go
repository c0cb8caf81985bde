// Package mqtt publishes S7 tag values to an MQTT broker.
package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"s7link/config"
	"s7link/logging"
)

// MaxWriteWorkers is the number of goroutines draining the publish queue.
const MaxWriteWorkers = 5

// MaxWriteQueueSize bounds the number of pending publishes. A slow or
// unreachable broker drops new messages once the queue is full rather than
// blocking a poll tick.
const MaxWriteQueueSize = 100

// writeJob is one pending publish.
type writeJob struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// TagMessage is the JSON payload published for each changed tag.
type TagMessage struct {
	PLC       string      `json:"plc"`
	Tag       string      `json:"tag"`
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher connects to a single MQTT broker and publishes tag values under
// "<namespace>/<plc>/<tag>". Publishing never blocks the caller: jobs queue
// onto a bounded channel drained by a small worker pool.
type Publisher struct {
	cfg       *config.MQTTConfig
	namespace string

	mu      sync.RWMutex
	client  pahomqtt.Client
	running bool

	lastMu     sync.Mutex
	lastValues map[string]string

	queue    chan writeJob
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// NewPublisher creates a Publisher for the given broker configuration.
func NewPublisher(cfg *config.MQTTConfig, namespace string) *Publisher {
	return &Publisher{
		cfg:        cfg,
		namespace:  namespace,
		lastValues: make(map[string]string),
		queue:      make(chan writeJob, MaxWriteQueueSize),
		stopChan:   make(chan struct{}),
	}
}

// Name returns the configured publisher name.
func (p *Publisher) Name() string { return p.cfg.Name }

// IsRunning reports whether the publisher holds a live broker connection.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Start connects to the broker and starts the write-worker pool.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := pahomqtt.NewClientOptions()
	if p.cfg.UseTLS {
		opts.AddBroker(fmt.Sprintf("ssl://%s:%d", p.cfg.Broker, p.cfg.Port))
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.cfg.Broker, p.cfg.Port))
	}
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := pahomqtt.NewClient(opts)
	logging.DebugLog("mqtt", "connecting to broker %s:%d", p.cfg.Broker, p.cfg.Port)

	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		err := fmt.Errorf("connect timeout to %s:%d", p.cfg.Broker, p.cfg.Port)
		logging.DebugError("mqtt", "connect", err)
		return err
	}
	if err := token.Error(); err != nil {
		logging.DebugError("mqtt", "connect", err)
		return err
	}
	logging.DebugLog("mqtt", "connected to broker %s:%d", p.cfg.Broker, p.cfg.Port)

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()

	p.lastMu.Lock()
	p.lastValues = make(map[string]string)
	p.lastMu.Unlock()

	p.startWorkers()
	return nil
}

// Stop disconnects from the broker and drains the worker pool.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	client := p.client
	p.client = nil
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()
	p.stopChan = make(chan struct{})

	if client != nil {
		client.Disconnect(250)
	}
}

func (p *Publisher) startWorkers() {
	for i := 0; i < MaxWriteWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			return
		case job := <-p.queue:
			p.mu.RLock()
			client := p.client
			p.mu.RUnlock()
			if client == nil {
				continue
			}
			token := client.Publish(job.topic, job.qos, job.retained, job.payload)
			token.WaitTimeout(2 * time.Second)
			if err := token.Error(); err != nil {
				logging.DebugError("mqtt", "publish", err)
			}
		}
	}
}

// BuildTopic returns the publish topic for a PLC/tag pair.
func (p *Publisher) BuildTopic(plcName, tagName string) string {
	return fmt.Sprintf("%s/%s/%s", p.namespace, plcName, tagName)
}

// Publish queues a tag value for publish unless it is unchanged since the
// last publish and force is false. Returns true if a message was queued.
func (p *Publisher) Publish(plcName, tagName string, value interface{}, force bool) bool {
	key := plcName + "/" + tagName
	stamp := fmt.Sprintf("%v", value)

	p.lastMu.Lock()
	last, seen := p.lastValues[key]
	changed := !seen || last != stamp
	if changed || force {
		p.lastValues[key] = stamp
	}
	p.lastMu.Unlock()

	if !changed && !force {
		return false
	}

	msg := TagMessage{PLC: plcName, Tag: tagName, Value: value, Timestamp: time.Now()}
	payload, err := json.Marshal(msg)
	if err != nil {
		logging.DebugError("mqtt", "marshal", err)
		return false
	}

	job := writeJob{topic: p.BuildTopic(plcName, tagName), payload: payload, qos: 0, retained: false}
	select {
	case p.queue <- job:
		return true
	default:
		logging.DebugLog("mqtt", "publish queue full, dropping %s", job.topic)
		return false
	}
}
