package intake_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signaltrader/internal/domain"
	"signaltrader/internal/intake"
	"signaltrader/internal/parser"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	cancel    context.CancelFunc
	fetchErr  error
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fetchErr != nil {
		return kafka.Message{}, r.fetchErr
	}
	if len(r.messages) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.messages[0]
	r.messages = r.messages[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	return nil
}

type handled struct {
	intent domain.Intent
	err    error
}

func TestDecode(t *testing.T) {
	t.Parallel()

	msg, err := intake.Decode([]byte(`{"channel":"signals","content":"predajte","parentContent":"ZEN/USDT"}`))
	require.NoError(t, err)
	assert.Equal(t, intake.ChatMessage{Channel: "signals", Content: "predajte", ParentContent: "ZEN/USDT"}, msg)

	_, err = intake.Decode([]byte(`{"channel":"signals"}`))
	require.Error(t, err)

	_, err = intake.Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestConsumer_Run(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, messages: []kafka.Message{
		{Offset: 1, Value: []byte(`{"channel":"signals","content":"predajte teraz","parentContent":"12.03.21 ZEN/USDT"}`)},
		{Offset: 2, Value: []byte(`garbage`)},
		{Offset: 3, Value: []byte(`{"channel":"offtopic","content":"predajte teraz ZEN/USDT"}`)},
		{Offset: 4, Value: []byte(`{"channel":"signals","content":"dobre rano"}`)},
		{Offset: 5, Value: []byte(`{"channel":"signals","content":"BTC/USDT\nVstup: market\nTarget: 70000\nStoploss: 60000"}`)},
	}}

	consumer, err := intake.NewConsumer(intake.Config{Reader: reader, Channels: []string{"signals"}})
	require.NoError(t, err)

	var got []handled
	err = consumer.Run(ctx, func(_ context.Context, intent domain.Intent, err error) {
		got = append(got, handled{intent: intent, err: err})
	})

	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, reader.committed)

	require.Len(t, got, 3)
	assert.Equal(t, domain.IntentSell, got[0].intent.Kind)
	assert.Equal(t, "ZENUSDT", got[0].intent.Symbol)
	assert.Equal(t, "signals", got[0].intent.Channel)
	assert.NoError(t, got[0].err)

	assert.Equal(t, domain.IntentUnknown, got[1].intent.Kind)
	assert.ErrorIs(t, got[1].err, parser.ErrUnknownMessage)

	assert.Equal(t, domain.IntentBuy, got[2].intent.Kind)
	require.NotNil(t, got[2].intent.Plan)
	assert.Equal(t, "BTCUSDT", got[2].intent.Plan.Symbol)
}

func TestConsumer_FetchError(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	consumer, err := intake.NewConsumer(intake.Config{Reader: &fakeReader{fetchErr: boom}})
	require.NoError(t, err)

	err = consumer.Run(context.Background(), func(context.Context, domain.Intent, error) {})
	require.ErrorIs(t, err, boom)
}

func TestNewConsumer_RequiresKafkaSettings(t *testing.T) {
	t.Parallel()

	_, err := intake.NewConsumer(intake.Config{Topic: "chat"})
	require.Error(t, err)

	consumer, err := intake.NewConsumer(intake.Config{Brokers: []string{"localhost:9092"}, Topic: "chat", GroupID: "signaltrader"})
	require.NoError(t, err)
	require.NoError(t, consumer.Close())
}
