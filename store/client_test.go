package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	client := readyClient(t, NewMemoryBackend(), 3)
	ctx := context.Background()

	fields := Fields{"symbol": "BTC/USDT", "qty": 0.25, "open": true}
	id, err := client.Write(ctx, "positions", "pos-1", fields)
	require.NoError(t, err)
	assert.Equal(t, "pos-1", id)

	got, err := client.Read(ctx, "positions", "pos-1")
	require.NoError(t, err)
	assert.Equal(t, fields, got)
}

func TestIntegersRoundTripExactly(t *testing.T) {
	client := readyClient(t, NewMemoryBackend(), 0)
	ctx := context.Background()

	big := int64(9007199254740993)
	_, err := client.Write(ctx, "orders", "o-1", Fields{
		"n":      1,
		"big":    big,
		"price":  101.5,
		"nested": map[string]interface{}{"ts": big},
		"legs":   []interface{}{1, 2.5},
	})
	require.NoError(t, err)

	got, err := client.Read(ctx, "orders", "o-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got["n"])
	assert.Equal(t, big, got["big"])
	assert.Equal(t, 101.5, got["price"])
	assert.Equal(t, map[string]interface{}{"ts": big}, got["nested"])
	assert.Equal(t, []interface{}{int64(1), 2.5}, got["legs"])

	docs, err := client.Query(ctx, "orders", Where("big", OpEqual, big)).All()
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	docs, err = client.Query(ctx, "orders", Where("big", OpEqual, big-1)).All()
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestWriteAssignsID(t *testing.T) {
	client := readyClient(t, NewMemoryBackend(), 0)
	ctx := context.Background()

	id, err := client.Write(ctx, "signals", "", Fields{"confidence": 0.7})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	got, err := client.Read(ctx, "signals", id)
	require.NoError(t, err)
	assert.Equal(t, 0.7, got["confidence"])
}

func TestWriteOverwritesDocument(t *testing.T) {
	client := readyClient(t, NewMemoryBackend(), 0)
	ctx := context.Background()

	_, err := client.Write(ctx, "state", "agent", Fields{"equity": 100.5})
	require.NoError(t, err)
	_, err = client.Write(ctx, "state", "agent", Fields{"equity": 120.5})
	require.NoError(t, err)

	got, err := client.Read(ctx, "state", "agent")
	require.NoError(t, err)
	assert.Equal(t, Fields{"equity": 120.5}, got)
}

func TestReadMissingIsNotAnError(t *testing.T) {
	client := readyClient(t, NewMemoryBackend(), 3)

	got, err := client.Read(context.Background(), "positions", "absent")
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrNotFound)
	var opErr *OperationError
	assert.False(t, errors.As(err, &opErr))
}

func TestDefaultCollection(t *testing.T) {
	backend := NewMemoryBackend()
	client := readyClient(t, backend, 0)
	ctx := context.Background()

	_, err := client.Write(ctx, "", "heartbeat", Fields{"alive": true})
	require.NoError(t, err)

	got, err := backend.Get(ctx, "apte_trading", "heartbeat")
	require.NoError(t, err)
	assert.Equal(t, true, got["alive"])
}

func TestTransientWriteRecovers(t *testing.T) {
	backend := newFlaky(fmt.Errorf("rate limited: %w", ErrTransient))
	backend.putFails = 3
	client := readyClient(t, backend, 3)

	id, err := client.Write(context.Background(), "orders", "o-1", Fields{"side": "buy"})
	require.NoError(t, err)
	assert.Equal(t, "o-1", id)
	assert.Equal(t, 4, backend.puts)
}

func TestTransientWriteExhaustsRetries(t *testing.T) {
	backend := newFlaky(fmt.Errorf("network blip: %w", ErrTransient))
	backend.putFails = 100
	client := readyClient(t, backend, 3)

	_, err := client.Write(context.Background(), "orders", "o-1", Fields{"side": "buy"})
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "write", opErr.Op)
	assert.Equal(t, "orders", opErr.Collection)
	assert.Equal(t, "o-1", opErr.DocumentID)
	assert.Equal(t, 4, opErr.Attempts)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 4, backend.puts)
}

func TestPermanentWriteFailsImmediately(t *testing.T) {
	backend := newFlaky(&smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"})
	backend.putFails = 100
	client := readyClient(t, backend, 3)

	_, err := client.Write(context.Background(), "orders", "o-1", Fields{})
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, 1, opErr.Attempts)
	assert.Equal(t, 1, backend.puts)
}

func TestTransientReadRecovers(t *testing.T) {
	backend := newFlaky(ErrTransient)
	client := readyClient(t, backend, 2)
	ctx := context.Background()
	_, err := client.Write(ctx, "orders", "o-1", Fields{"side": "sell"})
	require.NoError(t, err)

	backend.getFails = 2
	got, err := client.Read(ctx, "orders", "o-1")
	require.NoError(t, err)
	assert.Equal(t, "sell", got["side"])
	assert.Equal(t, 3, backend.gets)
}

func TestFailedCallDoesNotInvalidateClient(t *testing.T) {
	backend := newFlaky(ErrTransient)
	backend.putFails = 2
	client := readyClient(t, backend, 1)
	ctx := context.Background()

	_, err := client.Write(ctx, "orders", "o-1", Fields{"n": 1})
	require.Error(t, err)

	_, err = client.Write(ctx, "orders", "o-1", Fields{"n": 2})
	require.NoError(t, err)
	got, err := client.Read(ctx, "orders", "o-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got["n"])
}

func TestInvalidNamesRejectedWithoutCall(t *testing.T) {
	backend := newFlaky(nil)
	client := readyClient(t, backend, 3)
	ctx := context.Background()

	_, err := client.Write(ctx, "orders", "a/b", Fields{})
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 0, opErr.Attempts)

	_, err = client.Read(ctx, "orders", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 0, backend.puts)
	assert.Equal(t, 0, backend.gets)
}

func TestUnencodableFieldsArePermanent(t *testing.T) {
	backend := newFlaky(nil)
	client := readyClient(t, backend, 3)

	_, err := client.Write(context.Background(), "orders", "o-1", Fields{"ch": make(chan int)})
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, 1, opErr.Attempts)
}

func TestConcurrentWritesToDifferentDocuments(t *testing.T) {
	client := readyClient(t, NewMemoryBackend(), 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := client.Write(ctx, "ticks", fmt.Sprintf("t-%02d", i), Fields{"i": i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	docs, err := client.Query(ctx, "ticks").All()
	require.NoError(t, err)
	assert.Len(t, docs, 32)
}

func TestThrottledWriteWaitsForToken(t *testing.T) {
	backend := newFlaky(nil)
	cfg := testConfig(t, map[string]string{"STORE_REQUESTS_PER_SECOND": "0.5"})
	conn := NewConnection(cfg, WithDialer(func(ctx context.Context) (Backend, error) { return backend, nil }))
	client, err := conn.Client(context.Background())
	require.NoError(t, err)

	_, err = client.Write(context.Background(), "orders", "o-1", Fields{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Write(ctx, "orders", "o-2", Fields{})
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, 1, backend.puts)
}
