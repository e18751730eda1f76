package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"tlcharts/internal/config"

	"github.com/nats-io/nats-server/v2/server"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gitlab.com/nevasik7/alerting/logger"
)

// MockLogger implements logger.Logger for tests
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Debug(msg string) {
	m.Called(msg)
}

func (m *MockLogger) Debugf(msg string, args ...interface{}) {
	m.Called(msg, args)
}

func (m *MockLogger) Info(msg string) {
	m.Called(msg)
}

func (m *MockLogger) Warn(msg string) {
	m.Called(msg)
}

func (m *MockLogger) Warnf(msg string, args ...interface{}) {
	m.Called(msg, args)
}

func (m *MockLogger) Error(msg string) {
	m.Called(msg)
}

func (m *MockLogger) Fatal(msg string) {
	m.Called(msg)
}

func (m *MockLogger) Fatalf(msg string, args ...interface{}) {
	m.Called(msg, args)
}

func (m *MockLogger) Panic(msg string) {
	m.Called(msg)
}

func (m *MockLogger) Panicf(msg string, args ...interface{}) {
	m.Called(msg, args)
}

func (m *MockLogger) WithField(key string, value interface{}) logger.Logger {
	m.Called(key, value)
	return m
}

func (m *MockLogger) WithFields(fields map[string]interface{}) logger.Logger {
	m.Called(fields)
	return m
}

func (m *MockLogger) Infof(format string, args ...interface{}) {
	m.Called(format, args)
}

func (m *MockLogger) Errorf(format string, args ...interface{}) {
	m.Called(format, args)
}

// ------------------------ tests not real connection ------------------------
func TestConnect_NilConfig(t *testing.T) {
	mockLogger := new(MockLogger)

	client, err := Connect(nil, mockLogger)

	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Equal(t, "config is required", err.Error())
	mockLogger.AssertNotCalled(t, "Infof", mock.Anything, mock.Anything)
}

func TestConnect_EmptyURL(t *testing.T) {
	mockLogger := new(MockLogger)

	client, err := Connect(&config.NATSConfig{}, mockLogger)

	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Equal(t, "nats url is required", err.Error())
}

func TestNilConnection(t *testing.T) {
	client := &Client{nc: nil, log: new(MockLogger)}

	assert.False(t, client.Ready())
	assert.Equal(t, nats.DISCONNECTED, client.Status())
	assert.NoError(t, client.Close())
	assert.ErrorIs(t, client.Publish(context.Background(), "x", "y"), ErrNotConnected)
	assert.ErrorIs(t, client.Health(context.Background()), ErrNotConnected)
}

// ------------------------ tests in-memory nats connection ------------------------
func runTestWithInMemoryNATS(t *testing.T, testFunc func(*testing.T, *server.Server, string)) {
	t.Helper()

	opts := natsserver.DefaultTestOptions
	opts.Port = -1 // random port
	s := natsserver.RunServer(&opts)
	defer s.Shutdown()

	testFunc(t, s, s.ClientURL())
}

func connectForTest(t *testing.T, url string) (*Client, *MockLogger) {
	t.Helper()

	mockLogger := new(MockLogger)
	mockLogger.On("Infof", "Connected to NATS successfully, url=%s", mock.Anything).Once()

	client, err := Connect(&config.NATSConfig{URL: url}, mockLogger)
	require.NoError(t, err)
	require.NotNil(t, client)
	return client, mockLogger
}

func TestConnect_Success(t *testing.T) {
	runTestWithInMemoryNATS(t, func(t *testing.T, s *server.Server, url string) {
		client, mockLogger := connectForTest(t, url)

		assert.Eventually(t, client.Ready, time.Second, 10*time.Millisecond)
		assert.Equal(t, nats.CONNECTED, client.Status())
		assert.NoError(t, client.Health(context.Background()))
		mockLogger.AssertExpectations(t)

		client.nc.Close()
	})
}

func TestPublish_DeliversJSON(t *testing.T) {
	runTestWithInMemoryNATS(t, func(t *testing.T, s *server.Server, url string) {
		client, _ := connectForTest(t, url)
		defer client.nc.Close()

		sub, err := nats.Connect(url)
		require.NoError(t, err)
		defer sub.Close()

		msgs := make(chan *nats.Msg, 1)
		_, err = sub.ChanSubscribe("tlcharts.query_log", msgs)
		require.NoError(t, err)
		require.NoError(t, sub.Flush())

		payload := map[string]any{"normalized_query": "daily dex volume", "cache_hit": true}
		require.NoError(t, client.Publish(context.Background(), "tlcharts.query_log", payload))
		require.NoError(t, client.nc.Flush())

		select {
		case msg := <-msgs:
			var got map[string]any
			require.NoError(t, json.Unmarshal(msg.Data, &got))
			assert.Equal(t, "daily dex volume", got["normalized_query"])
			assert.Equal(t, true, got["cache_hit"])
		case <-time.After(2 * time.Second):
			t.Fatal("message not delivered")
		}
	})
}

func TestPublish_RawBytes(t *testing.T) {
	runTestWithInMemoryNATS(t, func(t *testing.T, s *server.Server, url string) {
		client, _ := connectForTest(t, url)
		defer client.nc.Close()

		sub, err := client.nc.SubscribeSync("raw")
		require.NoError(t, err)

		require.NoError(t, client.Publish(context.Background(), "raw", []byte("hello")))
		msg, err := sub.NextMsg(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(msg.Data))
	})
}

func TestClose_Idempotent(t *testing.T) {
	runTestWithInMemoryNATS(t, func(t *testing.T, s *server.Server, url string) {
		client, mockLogger := connectForTest(t, url)
		mockLogger.On("Infof", "NATS connection closed gracefully", mock.Anything).Once()

		assert.NoError(t, client.Close())
		assert.NoError(t, client.Close())
		assert.NoError(t, client.Close())

		assert.False(t, client.Ready())
		assert.Equal(t, nats.CLOSED, client.Status())
		mockLogger.AssertNumberOfCalls(t, "Infof", 2) // connect + close
	})
}
