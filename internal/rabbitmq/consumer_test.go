package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/watttime-adapter/pkg/model"
)

// ─── mocks ───────────────────────────────────────────────────────────────────

type mockAcknowledger struct {
	mu       sync.Mutex
	acks     int
	nacks    int
	requeues int
}

func (a *mockAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *mockAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	if requeue {
		a.requeues++
	}
	return nil
}

func (a *mockAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *mockAcknowledger) counts() (acks, nacks, requeues int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks, a.requeues
}

type mockBackfillService struct {
	mu    sync.Mutex
	runFn func(ctx context.Context, cmd model.BackfillCommand) (model.BackfillResult, error)
	cmds  []model.BackfillCommand
}

func (m *mockBackfillService) RunBackfill(ctx context.Context, cmd model.BackfillCommand) (model.BackfillResult, error) {
	m.mu.Lock()
	m.cmds = append(m.cmds, cmd)
	m.mu.Unlock()
	if m.runFn != nil {
		return m.runFn(ctx, cmd)
	}
	return model.BackfillResult{CommandID: cmd.CommandID, Region: cmd.Region}, nil
}

func (m *mockBackfillService) received() []model.BackfillCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.BackfillCommand, len(m.cmds))
	copy(out, m.cmds)
	return out
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func newTestConsumer(service BackfillService) *Consumer {
	return &Consumer{
		service: service,
		queue:   "emissions.backfill",
		logger:  zap.NewNop(),
		done:    make(chan struct{}),
	}
}

func validCommand() model.BackfillCommand {
	return model.BackfillCommand{
		CommandID:   "cmd-1",
		Region:      "CAISO_NORTH",
		Start:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		RequestedBy: "ops",
	}
}

func delivery(t *testing.T, ack amqp.Acknowledger, cmd model.BackfillCommand) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(cmd)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

// drain feeds the buffered deliveries through the consume loop and waits for
// the loop to exit on channel close.
func drain(t *testing.T, c *Consumer, msgs chan amqp.Delivery) {
	t.Helper()
	close(msgs)

	finished := make(chan struct{})
	go func() {
		c.consumeBackfills(context.Background(), msgs)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not drain queue")
	}
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestConsume_ValidCommandAcked(t *testing.T) {
	service := &mockBackfillService{}
	c := newTestConsumer(service)
	ack := &mockAcknowledger{}

	msgs := make(chan amqp.Delivery, 1)
	msgs <- delivery(t, ack, validCommand())
	drain(t, c, msgs)

	acks, nacks, _ := ack.counts()
	assert.Equal(t, 1, acks)
	assert.Equal(t, 0, nacks)

	cmds := service.received()
	require.Len(t, cmds, 1)
	assert.Equal(t, "cmd-1", cmds[0].CommandID)
	assert.Equal(t, "CAISO_NORTH", cmds[0].Region)
}

func TestConsume_MalformedJSONDropped(t *testing.T) {
	service := &mockBackfillService{}
	c := newTestConsumer(service)
	ack := &mockAcknowledger{}

	msgs := make(chan amqp.Delivery, 1)
	msgs <- amqp.Delivery{Acknowledger: ack, Body: []byte("{not json")}
	drain(t, c, msgs)

	acks, nacks, requeues := ack.counts()
	assert.Equal(t, 0, acks)
	assert.Equal(t, 1, nacks)
	assert.Equal(t, 0, requeues, "poison messages must not requeue")
	assert.Empty(t, service.received())
}

func TestConsume_InvalidCommandDropped(t *testing.T) {
	service := &mockBackfillService{}
	c := newTestConsumer(service)
	ack := &mockAcknowledger{}

	cmd := validCommand()
	cmd.Region = ""

	msgs := make(chan amqp.Delivery, 1)
	msgs <- delivery(t, ack, cmd)
	drain(t, c, msgs)

	acks, nacks, requeues := ack.counts()
	assert.Equal(t, 0, acks)
	assert.Equal(t, 1, nacks)
	assert.Equal(t, 0, requeues, "poison messages must not requeue")
	assert.Empty(t, service.received())
}

func TestConsume_ServiceErrorRequeued(t *testing.T) {
	service := &mockBackfillService{
		runFn: func(ctx context.Context, cmd model.BackfillCommand) (model.BackfillResult, error) {
			return model.BackfillResult{}, fmt.Errorf("upstream rate limited")
		},
	}
	c := newTestConsumer(service)
	ack := &mockAcknowledger{}

	msgs := make(chan amqp.Delivery, 1)
	msgs <- delivery(t, ack, validCommand())
	drain(t, c, msgs)

	acks, nacks, requeues := ack.counts()
	assert.Equal(t, 0, acks)
	assert.Equal(t, 1, nacks)
	assert.Equal(t, 1, requeues, "transient failures should requeue")
}

func TestConsume_AssignsCommandID(t *testing.T) {
	service := &mockBackfillService{}
	c := newTestConsumer(service)
	ack := &mockAcknowledger{}

	cmd := validCommand()
	cmd.CommandID = ""

	msgs := make(chan amqp.Delivery, 1)
	msgs <- delivery(t, ack, cmd)
	drain(t, c, msgs)

	cmds := service.received()
	require.Len(t, cmds, 1)
	assert.NotEmpty(t, cmds[0].CommandID, "consumer should assign an id to anonymous commands")
}

func TestConsume_ProcessesSequentially(t *testing.T) {
	service := &mockBackfillService{}
	c := newTestConsumer(service)
	ack := &mockAcknowledger{}

	msgs := make(chan amqp.Delivery, 3)
	for _, region := range []string{"CAISO_NORTH", "ERCOT", "PJM_NJ"} {
		cmd := validCommand()
		cmd.CommandID = "cmd-" + region
		cmd.Region = region
		msgs <- delivery(t, ack, cmd)
	}
	drain(t, c, msgs)

	acks, _, _ := ack.counts()
	assert.Equal(t, 3, acks)

	cmds := service.received()
	require.Len(t, cmds, 3)
	assert.Equal(t, "CAISO_NORTH", cmds[0].Region)
	assert.Equal(t, "ERCOT", cmds[1].Region)
	assert.Equal(t, "PJM_NJ", cmds[2].Region)
}

func TestConsume_StopsOnDone(t *testing.T) {
	service := &mockBackfillService{}
	c := newTestConsumer(service)

	msgs := make(chan amqp.Delivery)
	finished := make(chan struct{})
	go func() {
		c.consumeBackfills(context.Background(), msgs)
		close(finished)
	}()

	close(c.done)

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on done signal")
	}
}

func TestConsume_StopsOnContextCancel(t *testing.T) {
	service := &mockBackfillService{}
	c := newTestConsumer(service)

	ctx, cancel := context.WithCancel(context.Background())
	msgs := make(chan amqp.Delivery)
	finished := make(chan struct{})
	go func() {
		c.consumeBackfills(ctx, msgs)
		close(finished)
	}()

	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on context cancel")
	}
}
