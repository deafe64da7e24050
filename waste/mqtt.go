package waste

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RefreshRequestHandler is called when a refresh is requested over MQTT
type RefreshRequestHandler func(force bool)

// MQTTClient manages the broker connection used for refresh announcements
// and the refresh command topic.
type MQTTClient struct {
	client         mqtt.Client
	config         MQTTConfig
	refreshHandler RefreshRequestHandler
	isConnected    bool
	mu             sync.RWMutex

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newMQTTClient(client mqtt.Client, cfg MQTTConfig, handler RefreshRequestHandler) *MQTTClient {
	return &MQTTClient{
		client:         client,
		config:         cfg,
		refreshHandler: handler,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// ConnectMQTT builds an MQTT client from cfg and starts connecting in the
// background. MQTT_* environment variables take precedence over cfg. An empty
// broker disables MQTT and returns nil, nil.
func ConnectMQTT(cfg MQTTConfig, handler RefreshRequestHandler) (*MQTTClient, error) {
	cfg = mqttSettings(cfg)
	if cfg.Broker == "" {
		log.Info("MQTT disabled: no broker configured")
		return nil, nil
	}
	if !strings.Contains(cfg.Broker, "://") {
		return nil, fmt.Errorf("mqtt broker %q must include a scheme, e.g. tcp://host:1883", cfg.Broker)
	}

	client := newMQTTClient(nil, cfg, handler)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	return client, nil
}

// mqttSettings overlays MQTT_* environment variables and fills the client id default.
func mqttSettings(cfg MQTTConfig) MQTTConfig {
	envString("MQTT_BROKER", &cfg.Broker)
	envString("MQTT_CLIENT_ID", &cfg.ClientID)
	envString("MQTT_USERNAME", &cfg.Username)
	envString("MQTT_PASSWORD", &cfg.Password)
	envString("MQTT_PUBLISH_PREFIX", &cfg.PublishPrefix)
	if cfg.ClientID == "" {
		cfg.ClientID = "binwatch"
	}
	if cfg.PublishPrefix == "" {
		cfg.PublishPrefix = "binwatch"
	}
	return cfg
}

// connectWithRetry attempts to connect to the MQTT broker with exponential
// backoff until it succeeds or Disconnect is called.
func (c *MQTTClient) connectWithRetry() {
	defer close(c.done)
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for !c.stopped() {
		log.Infof("connecting to MQTT broker %s", c.config.Broker)

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				if c.stopped() {
					// Disconnect ran while the attempt was in flight
					c.client.Disconnect(250)
					c.setConnected(false)
					return
				}
				log.Info("connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.WithError(token.Error()).Warn("MQTT connection failed")
		} else {
			log.Warn("MQTT connection timeout")
		}

		log.Infof("retrying MQTT connection in %v", retryDelay)
		select {
		case <-c.stop:
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// CommandTopic is the topic refresh requests are read from
func (c *MQTTClient) CommandTopic() string {
	return c.config.PublishPrefix + "/command/refresh"
}

// onConnect subscribes to the refresh command topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)
	if c.refreshHandler == nil {
		return
	}

	topic := c.CommandTopic()
	token := client.Subscribe(topic, 0, c.handleRefreshCommand)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.WithError(token.Error()).Warnf("subscribing to %s", topic)
		return
	}
	log.Infof("subscribed to %s", topic)
}

// refreshCommand is the payload of a refresh request
type refreshCommand struct {
	Force bool `json:"force"`
}

// handleRefreshCommand accepts {"force": true}, a bare "force" string, or an empty payload.
func (c *MQTTClient) handleRefreshCommand(_ mqtt.Client, msg mqtt.Message) {
	payload := strings.TrimSpace(string(msg.Payload()))

	var cmd refreshCommand
	switch {
	case payload == "":
	case json.Unmarshal(msg.Payload(), &cmd) == nil:
	default:
		cmd.Force = strings.EqualFold(strings.Trim(payload, `"`), "force")
	}

	log.Infof("refresh requested on %s (force=%t)", msg.Topic(), cmd.Force)
	if c.refreshHandler != nil {
		c.refreshHandler(cmd.Force)
	}
}

// onConnectionLost is called when the MQTT connection is lost
// Auto-reconnect is enabled, so this is typically a transient event
func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	log.WithError(err).Warn("MQTT connection interrupted, auto-reconnect will retry")
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(_ mqtt.Client, _ *mqtt.ClientOptions) {
	log.Info("MQTT reconnecting")
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// WaitConnected polls until the client is connected or timeout elapses
func (c *MQTTClient) WaitConnected(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if c.IsConnected() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.client != nil && c.client.IsConnected() {
		log.Info("disconnecting from MQTT broker")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// PublishPrefix returns the topic prefix announcements are published under
func (c *MQTTClient) PublishPrefix() string {
	return c.config.PublishPrefix
}

// newMQTTClientWithMock wraps a provided mqtt.Client; used with MockClient in tests
func newMQTTClientWithMock(client mqtt.Client, cfg MQTTConfig, handler RefreshRequestHandler) *MQTTClient {
	return newMQTTClient(client, mqttSettings(cfg), handler)
}
