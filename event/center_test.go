package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type recorder struct {
	mu     sync.Mutex
	events []*Event
}

func (r *recorder) ProcessEvent(e *Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestEventBusNonBlocking(t *testing.T) {
	bus := NewEventBus(1)
	bus.Publish(&Event{Type: EventTypeSystemStart})
	// 队列已满时直接丢弃，不阻塞
	done := make(chan struct{})
	go func() {
		bus.Publish(&Event{Type: EventTypeSystemStop})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish 不应阻塞")
	}

	e := <-bus.Subscribe()
	if e.Type != EventTypeSystemStart || e.Timestamp.IsZero() {
		t.Errorf("事件不正确: %+v", e)
	}
	bus.Publish(nil)
}

func TestEventBusPublishAfterClose(t *testing.T) {
	bus := NewEventBus(4)
	bus.Publish(&Event{Type: EventTypeSystemStart})
	bus.Close()
	bus.Close()

	// 关闭后发布不应 panic，也不应进入队列
	bus.Publish(&Event{Type: EventTypeWalkForwardCompleted})

	var got []EventType
	for e := range bus.Subscribe() {
		got = append(got, e.Type)
	}
	if len(got) != 1 || got[0] != EventTypeSystemStart {
		t.Errorf("关闭后队列内容 = %v, 期望只有 system_start", got)
	}
}

func TestEventCenterDispatch(t *testing.T) {
	bus := NewEventBus(100)
	a, b := &recorder{}, &recorder{}
	center := NewEventCenter(bus, a)
	center.AddProcessor(b)
	center.AddProcessor(ProcessorFunc(func(*Event) { panic("boom") }))
	center.Start()

	for i := 0; i < 5; i++ {
		bus.Publish(&Event{Type: EventTypeFoldCompleted, Data: map[string]interface{}{"strategy": "momentum", "fold_index": i}})
	}
	deadline := time.Now().Add(2 * time.Second)
	for (a.count() < 5 || b.count() < 5) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	center.Stop()

	if a.count() != 5 || b.count() != 5 {
		t.Errorf("每个处理器都应收到 5 个事件: %d %d", a.count(), b.count())
	}
}

func TestBuildMessage(t *testing.T) {
	msg := BuildMessage(&Event{Type: EventTypePromotionRejected, Data: map[string]interface{}{
		"strategy": "momentum", "reason": "sharpe 0.5 < 1.0",
	}})
	if msg != "momentum 晋升被拒: sharpe 0.5 < 1.0" {
		t.Errorf("消息不正确: %s", msg)
	}
	if GetEventSeverity(EventTypePromotionRejected) != SeverityWarning {
		t.Errorf("拒绝事件应为 warning")
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	if _, err := NewKafkaPublisher(KafkaConfig{}); err == nil {
		t.Error("缺少 brokers 应返回错误")
	}

	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "quantgate.events", timeout: time.Second}
	p.ProcessEvent(&Event{
		Type:      EventTypeWalkForwardCompleted,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"strategy": "trend_following", "run_id": "abc"},
	})
	if len(w.msgs) != 1 {
		t.Fatalf("期望 1 条消息, 得到 %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "trend_following" || string(msg.Headers[0].Value) != string(EventTypeWalkForwardCompleted) {
		t.Errorf("消息头不正确: %+v", msg)
	}
	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil || decoded.Data["run_id"] != "abc" {
		t.Errorf("消息体不正确: %v %+v", err, decoded)
	}

	// 写入失败不 panic
	p.writer = &fakeWriter{err: errors.New("broker down")}
	p.ProcessEvent(&Event{Type: EventTypeSystemStop})
}
