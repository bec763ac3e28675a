package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gowvp/nora/internal/conf"
	"github.com/gowvp/nora/internal/core/experiment"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mqtt.Client
	err  error
	sent []message
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload any) mqtt.Token {
	c.sent = append(c.sent, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return doneToken{err: c.err}
}

func TestNotify(t *testing.T) {
	client := &fakeClient{}
	e := NewMQTTEmitter(conf.MQTT{TopicPrefix: "lab/", QoS: 1})
	e.Client = client

	event := experiment.StatusEvent{JobID: "j1", ExperimentID: 7, Status: experiment.StatusCompleted, Attempt: 1}
	if err := e.Notify(context.Background(), event); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expect not connected, got %v", err)
	}

	e.setConnected(true)
	if err := e.Notify(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expect 1 message, got %d", len(client.sent))
	}
	msg := client.sent[0]
	if msg.topic != "lab/experiments/7/status" || msg.qos != 1 {
		t.Fatalf("unexpected message %s qos=%d", msg.topic, msg.qos)
	}
	var got experiment.StatusEvent
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.Status != experiment.StatusCompleted || got.JobID != "j1" {
		t.Fatalf("unexpected payload %+v", got)
	}

	client.err = errors.New("broker rejected")
	if err := e.Notify(context.Background(), event); err == nil {
		t.Fatal("expect publish error")
	}
	connected, published, failed := e.Stats()
	if !connected || published != 1 || failed != 2 {
		t.Fatalf("stats connected=%v published=%d errors=%d", connected, published, failed)
	}
}

func TestTopicDefaultPrefix(t *testing.T) {
	e := NewMQTTEmitter(conf.MQTT{})
	if got := e.Topic(3); got != "nora/experiments/3/status" {
		t.Fatalf("unexpected topic %s", got)
	}
}
