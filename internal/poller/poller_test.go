package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

type mockDropper struct {
	m       sync.RWMutex
	dropped []string
	err     error
}

func (d *mockDropper) DropItems(_ context.Context, sessionID string) error {
	d.m.Lock()
	defer d.m.Unlock()
	if d.err != nil {
		return d.err
	}
	d.dropped = append(d.dropped, sessionID)
	return nil
}

func (d *mockDropper) sessions() []string {
	d.m.RLock()
	defer d.m.RUnlock()
	return append([]string(nil), d.dropped...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		dropErr error
		wantErr error
		dropped []string
	}{
		{name: "drops cart", value: `{"checkout_id":"c1","session_id":"s1"}`, dropped: []string{"s1"}},
		{name: "missing session", value: `{"checkout_id":"c1"}`, wantErr: ErrMissingSessionID},
		{name: "dropper failure", value: `{"session_id":"s1"}`, dropErr: errors.New("mongo down")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDropper{err: tt.dropErr}
			p := &Poller{carts: d, logger: testLogger()}

			err := p.handle(context.Background(), kafkaGo.Message{Value: []byte(tt.value)})

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.dropErr != nil:
				assert.ErrorIs(t, err, tt.dropErr)
			default:
				require.NoError(t, err)
			}
			assert.Equal(t, tt.dropped, d.sessions())
		})
	}
}

func TestHandleMalformedPayload(t *testing.T) {
	p := &Poller{carts: &mockDropper{}, logger: testLogger()}

	err := p.handle(context.Background(), kafkaGo.Message{Value: []byte("not json")})

	assert.ErrorContains(t, err, "parse message")
}

type stubReader struct {
	m      sync.RWMutex
	queue  []error
	msgs   []kafkaGo.Message
	reads  int
	closed bool
}

// ReadMessage fails with each queued error in turn, then serves msgs, then
// blocks until ctx is done.
func (r *stubReader) ReadMessage(ctx context.Context) (kafkaGo.Message, error) {
	r.m.Lock()
	r.reads++
	if len(r.queue) > 0 {
		err := r.queue[0]
		r.queue = r.queue[1:]
		r.m.Unlock()
		return kafkaGo.Message{}, err
	}
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.m.Unlock()
		return m, nil
	}
	r.m.Unlock()
	<-ctx.Done()
	return kafkaGo.Message{}, ctx.Err()
}

func (r *stubReader) Close() error {
	r.m.Lock()
	defer r.m.Unlock()
	r.closed = true
	return nil
}

func (r *stubReader) readCount() int {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.reads
}

func runAsync(ctx context.Context, p *Poller) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	return done
}

func TestRun_RetriesAfterReadError(t *testing.T) {
	reader := &stubReader{
		queue: []error{errors.New("broker not available"), errors.New("broker not available")},
		msgs:  []kafkaGo.Message{{Value: []byte(`{"checkout_id":"c1","session_id":"s1"}`)}},
	}
	d := &mockDropper{}
	p := newPoller(d, reader, testLogger())
	p.retryDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	start := time.Now()
	done := runAsync(ctx, p)

	require.Eventually(t, func() bool {
		return len(d.sessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond, "each failed read waits before retrying")
	assert.Equal(t, []string{"s1"}, d.sessions())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_StopsWhenReaderClosed(t *testing.T) {
	reader := &stubReader{queue: []error{io.EOF}}
	p := newPoller(&mockDropper{}, reader, testLogger())

	select {
	case <-runAsync(context.Background(), p):
	case <-time.After(time.Second):
		t.Fatal("Run kept reading from a closed reader")
	}
	assert.Equal(t, 1, reader.readCount())
}

func TestRun_CancelDuringRetryWait(t *testing.T) {
	reader := &stubReader{queue: []error{errors.New("broker not available")}}
	p := newPoller(&mockDropper{}, reader, testLogger())
	p.retryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, p)
	require.Eventually(t, func() bool { return reader.readCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return while waiting to retry")
	}
	assert.Equal(t, 1, reader.readCount())
}

func TestClose_ClosesReader(t *testing.T) {
	reader := &stubReader{}
	p := newPoller(&mockDropper{}, reader, testLogger())

	p.Close()

	assert.True(t, reader.closed)
}

func setupKafka(t *testing.T) string {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")
	return brokers[0]
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestPoller_Run(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	broker := setupKafka(t)
	createTopic(t, broker, Topic)

	d := &mockDropper{}
	p := NewPoller(d, testLogger(), broker)
	defer p.Close()

	payload, err := json.Marshal(checkoutCompleted{CheckoutID: "chId", SessionID: "123"})
	require.NoError(t, err)
	w := &kafkaGo.Writer{
		Addr:                   kafkaGo.TCP(broker),
		Topic:                  Topic,
		Balancer:               &kafkaGo.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	err = w.WriteMessages(ctx, kafkaGo.Message{
		Key:     []byte("chId"),
		Value:   payload,
		Headers: []kafkaGo.Header{{Key: "event_type", Value: []byte("checkout")}},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	go p.Run(ctx)

	require.Eventually(t, func() bool {
		return len(d.sessions()) == 1
	}, 30*time.Second, 500*time.Millisecond)
	assert.Equal(t, []string{"123"}, d.sessions())
}
