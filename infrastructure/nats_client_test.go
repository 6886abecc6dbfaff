package infrastructure

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNATSClient_NotConnected(t *testing.T) {
	client := NewNATSClient("nats://localhost:4222", "satsledger-test")

	assert.False(t, client.IsConnected())
	assert.Error(t, client.EnsureLedgerStream())
	assert.Error(t, client.Publish(context.Background(), "ledger.wallet.balance_changed", "id-1", []byte("{}")))
	assert.NoError(t, client.Close())
}

func setupNATSServer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping NATS integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
			Labels: map[string]string{
				"satsledger.test": "true",
			},
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestNATSClient_PublishDeduplicatesByMessageID(t *testing.T) {
	url := setupNATSServer(t)
	ctx := context.Background()

	client := NewNATSClient(url, "satsledger-test")
	require.NoError(t, client.Connect(ctx))
	defer client.Close()
	assert.True(t, client.IsConnected())

	require.NoError(t, client.EnsureLedgerStream())
	// Second call finds the existing stream
	require.NoError(t, client.EnsureLedgerStream())

	require.NoError(t, client.Publish(ctx, "ledger.wallet.balance_changed", "evt-1", []byte(`{"n":1}`)))
	require.NoError(t, client.Publish(ctx, "ledger.wallet.balance_changed", "evt-1", []byte(`{"n":1}`)))
	require.NoError(t, client.Publish(ctx, "ledger.transaction.pending", "evt-2", []byte(`{"n":2}`)))

	info, err := client.js.StreamInfo(LedgerStreamName)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)

	// Subjects outside the ledger prefix are not captured by the stream
	_, err = client.js.Publish("other.subject", []byte("x"))
	assert.Error(t, err)
}
