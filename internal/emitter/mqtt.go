// Package emitter 将实验状态变化推送到 MQTT
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gowvp/nora/internal/conf"
	"github.com/gowvp/nora/internal/core/experiment"
)

var (
	_ experiment.Notifier = (*MQTTEmitter)(nil)
	_ experiment.Notifier = Nop{}
)

var ErrNotConnected = errors.New("mqtt not connected")

// MQTTEmitter 发布实验状态，topic 为 {prefix}/experiments/{id}/status
type MQTTEmitter struct {
	cfg    conf.MQTT
	Client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

func NewMQTTEmitter(cfg conf.MQTT) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg}
}

// Connect 连接 broker，断线后自动重连
func (e *MQTTEmitter) Connect(ctx context.Context) error {
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

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		slog.Info("mqtt connection established", "broker", broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("mqtt connection lost, will auto-reconnect", "broker", broker, "err", err)
	}

	e.Client = mqtt.NewClient(opts)
	slog.InfoContext(ctx, "connecting to mqtt broker", "broker", broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	e.setConnected(true)
	return nil
}

// Topic 实验状态的 topic
func (e *MQTTEmitter) Topic(experimentID int64) string {
	prefix := strings.TrimSuffix(e.cfg.TopicPrefix, "/")
	if prefix == "" {
		prefix = "nora"
	}
	return fmt.Sprintf("%s/experiments/%d/status", prefix, experimentID)
}

// Notify implements experiment.Notifier.
func (e *MQTTEmitter) Notify(_ context.Context, event experiment.StatusEvent) error {
	if !e.isConnected() {
		e.incErrors()
		return ErrNotConnected
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.incErrors()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := e.Topic(event.ExperimentID)
	token := e.Client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.incErrors()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.incErrors()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
	slog.Debug("status published", "topic", topic, "status", event.Status, "size", len(payload))
	return nil
}

// Disconnect 关闭连接
func (e *MQTTEmitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats 发布统计
func (e *MQTTEmitter) Stats() (connected bool, published, failed uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected, e.published, e.errors
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) incErrors() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// Nop 未配置 broker 时只记录日志
type Nop struct{}

func (Nop) Notify(ctx context.Context, event experiment.StatusEvent) error {
	slog.DebugContext(ctx, "experiment status", "experiment_id", event.ExperimentID, "status", event.Status, "attempt", event.Attempt)
	return nil
}
