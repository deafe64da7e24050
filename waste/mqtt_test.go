package waste

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestConnectMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	client, err := ConnectMQTT(MQTTConfig{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestConnectMQTT_BrokerWithoutScheme(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	_, err := ConnectMQTT(MQTTConfig{Broker: "localhost:1883"}, nil)
	assert.Error(t, err)
}

func TestMQTTSettings_EnvOverrides(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://env:1883")
	t.Setenv("MQTT_PUBLISH_PREFIX", "envprefix")
	t.Setenv("MQTT_CLIENT_ID", "")

	cfg := mqttSettings(MQTTConfig{Broker: "tcp://file:1883", PublishPrefix: "file"})
	assert.Equal(t, "tcp://env:1883", cfg.Broker)
	assert.Equal(t, "envprefix", cfg.PublishPrefix)
	assert.Equal(t, "binwatch", cfg.ClientID)
}

func TestMQTTClient_IsConnected(t *testing.T) {
	client := &MQTTClient{}
	assert.False(t, client.IsConnected(), "New client should not be connected")

	client.setConnected(true)
	assert.True(t, client.IsConnected(), "Client should be connected after setConnected(true)")

	client.setConnected(false)
	assert.False(t, client.IsConnected(), "Client should not be connected after setConnected(false)")
}

// refreshRecorder collects refresh requests delivered by the command handler.
type refreshRecorder struct {
	mu     sync.Mutex
	forces []bool
}

func (r *refreshRecorder) handle(force bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forces = append(r.forces, force)
}

func (r *refreshRecorder) got() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.forces...)
}

func connectedMock(t *testing.T, handler RefreshRequestHandler) (*MockClient, *MQTTClient) {
	t.Helper()
	mockClient := NewMockClient()
	client := newMQTTClientWithMock(mockClient, MQTTConfig{PublishPrefix: "city"}, handler)
	mockClient.SetOnConnect(client.onConnect)
	require.NoError(t, mockClient.Connect().Error())
	return mockClient, client
}

func TestMQTTClient_RefreshCommand(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	rec := &refreshRecorder{}
	mockClient, client := connectedMock(t, rec.handle)

	assert.True(t, client.IsConnected())
	assert.Equal(t, "city/command/refresh", client.CommandTopic())

	payloads := []struct {
		payload string
		force   bool
	}{
		{`{"force": true}`, true},
		{`{"force": false}`, false},
		{`force`, true},
		{`"FORCE"`, true},
		{``, false},
		{`refresh please`, false},
	}
	for _, p := range payloads {
		require.True(t, mockClient.SimulateMessage("city/command/refresh", []byte(p.payload)))
	}

	want := make([]bool, len(payloads))
	for i, p := range payloads {
		want[i] = p.force
	}
	assert.Equal(t, want, rec.got())
}

func TestMQTTClient_NoHandlerNoSubscription(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mockClient, client := connectedMock(t, nil)

	assert.True(t, client.IsConnected())
	assert.False(t, mockClient.SimulateMessage("city/command/refresh", []byte("force")))
}

func TestMQTTClient_SubscribeError(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mockClient := NewMockClient()
	mockClient.SetSubscribeError(errors.New("not authorized"))
	client := newMQTTClientWithMock(mockClient, MQTTConfig{PublishPrefix: "city"}, func(bool) {})
	mockClient.SetOnConnect(client.onConnect)

	require.NoError(t, mockClient.Connect().Error())
	assert.False(t, mockClient.SimulateMessage("city/command/refresh", nil))
}

func TestMQTTClient_Disconnect(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mockClient, client := connectedMock(t, nil)

	client.Disconnect()
	assert.False(t, client.IsConnected())
	assert.False(t, mockClient.IsConnected())
	assert.Same(t, mockClient, client.GetClient())
	assert.Equal(t, "city", client.PublishPrefix())
}

func TestMQTTClient_ConnectLoopStopsOnDisconnect(t *testing.T) {
	mockClient := NewMockClient()
	mockClient.SetConnectError(errors.New("connection refused"))
	client := newMQTTClientWithMock(mockClient, MQTTConfig{Broker: "tcp://broker:1883"}, nil)

	go client.connectWithRetry()
	client.Disconnect()

	select {
	case <-client.done:
	case <-time.After(2 * time.Second):
		t.Fatal("connect loop still running after Disconnect")
	}
	assert.False(t, client.IsConnected())
}

func TestMQTTClient_ConnectLoopConnects(t *testing.T) {
	mockClient := NewMockClient()
	client := newMQTTClientWithMock(mockClient, MQTTConfig{Broker: "tcp://broker:1883"}, nil)

	go client.connectWithRetry()
	select {
	case <-client.done:
	case <-time.After(2 * time.Second):
		t.Fatal("connect loop did not finish")
	}
	assert.True(t, client.IsConnected())

	client.Disconnect()
	client.Disconnect()
	assert.False(t, client.IsConnected())
}

func TestMQTTClient_DisconnectBeforeConnectSkipsAttempt(t *testing.T) {
	mockClient := NewMockClient()
	client := newMQTTClientWithMock(mockClient, MQTTConfig{Broker: "tcp://broker:1883"}, nil)

	client.Disconnect()
	client.connectWithRetry()

	assert.False(t, mockClient.IsConnected())
	assert.False(t, client.IsConnected())
}

// MockNotifier is a testify mock of RefreshNotifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) PublishRefresh(status DataStatus, count int) error {
	args := m.Called(status, count)
	return args.Error(0)
}

func (m *MockNotifier) PublishCritical(records []ContainerRecord) error {
	args := m.Called(records)
	return args.Error(0)
}

func TestSession_NotifierContract(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("PublishRefresh", mock.MatchedBy(func(s DataStatus) bool { return s.Source == SourceLive }), 3).Return(nil).Once()
	notifier.On("PublishCritical", mock.AnythingOfType("[]waste.ContainerRecord")).Return(nil).Once()

	s := NewSession(testConfig(t), WithFetcher(sampleSource(t)), WithNotifier(notifier), WithClock(clock))
	s.GetContainers(context.Background(), false)

	notifier.AssertExpectations(t)
}

func TestSession_NotifierSkipsCriticalWhenRefreshFails(t *testing.T) {
	notifier := new(MockNotifier)
	notifier.On("PublishRefresh", mock.Anything, mock.Anything).Return(errors.New("offline"))

	s := NewSession(testConfig(t), WithFetcher(sampleSource(t)), WithNotifier(notifier), WithClock(clock))
	s.GetContainers(context.Background(), false)

	notifier.AssertNotCalled(t, "PublishCritical", mock.Anything)
}

func TestSession_NotifierNotCalledForFallback(t *testing.T) {
	notifier := new(MockNotifier)
	s := NewSession(testConfig(t), WithFetcher(&stubSource{err: errUnreachable}), WithNotifier(notifier), WithClock(clock))
	s.GetContainers(context.Background(), false)

	notifier.AssertNotCalled(t, "PublishRefresh", mock.Anything, mock.Anything)
}
