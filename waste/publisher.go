package waste

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// RefreshNotifier is told about every successful container refresh.
type RefreshNotifier interface {
	PublishRefresh(status DataStatus, count int) error
	PublishCritical(records []ContainerRecord) error
}

// RefreshAnnouncement is the payload of <prefix>/refresh
type RefreshAnnouncement struct {
	Source    DataSource `json:"source"`
	Stale     bool       `json:"stale"`
	Count     int        `json:"count"`
	Dropped   int        `json:"dropped"`
	UpdatedAt time.Time  `json:"updatedAt"`
	Timestamp int64      `json:"timestamp"`
}

// CriticalContainer is one entry of the <prefix>/critical payload
type CriticalContainer struct {
	ID           string   `json:"id"`
	Neighborhood string   `json:"neighborhood"`
	Category     Category `json:"category"`
	FillLevel    int      `json:"fillLevel"`
	Status       Status   `json:"status"`
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
}

// Publisher announces container refreshes over MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	lastRefresh   *RefreshAnnouncement
	mu            sync.RWMutex
}

// NewPublisher creates a refresh publisher.
// If client is nil, every publish returns an error.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "binwatch"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // QoS 0, consumers only need the latest state
		retain:        true, // late subscribers get the last announcement
	}
}

// PublishRefresh announces a refreshed collection on <prefix>/refresh
func (p *Publisher) PublishRefresh(status DataStatus, count int) error {
	msg := &RefreshAnnouncement{
		Source:    status.Source,
		Stale:     status.Stale,
		Count:     count,
		Dropped:   status.Dropped,
		UpdatedAt: status.UpdatedAt,
		Timestamp: time.Now().Unix(),
	}

	if err := p.publish(p.topic("refresh"), msg); err != nil {
		return err
	}

	p.mu.Lock()
	p.lastRefresh = msg
	p.mu.Unlock()

	log.Infof("published refresh: %d containers from %s", count, status.Source)
	return nil
}

// PublishCritical publishes every container at or above the critical fill level to <prefix>/critical
func (p *Publisher) PublishCritical(records []ContainerRecord) error {
	critical := make([]CriticalContainer, 0)
	for _, r := range records {
		if r.FillLevel < criticalFill {
			continue
		}
		critical = append(critical, CriticalContainer{
			ID:           r.ID,
			Neighborhood: r.Neighborhood,
			Category:     r.Category,
			FillLevel:    r.FillLevel,
			Status:       r.Status,
			Lat:          r.Lat,
			Lon:          r.Lon,
		})
	}

	message := map[string]interface{}{
		"count":      len(critical),
		"containers": critical,
		"timestamp":  time.Now().Unix(),
	}
	return p.publish(p.topic("critical"), message)
}

func (p *Publisher) publish(topic string, v interface{}) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}

	p.mu.RLock()
	qos, retain := p.qos, p.retain
	p.mu.RUnlock()

	token := p.client.Publish(topic, qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

func (p *Publisher) topic(name string) string {
	return fmt.Sprintf("%s/%s", p.publishPrefix, name)
}

// LastRefresh returns a copy of the last announcement that was published
func (p *Publisher) LastRefresh() (RefreshAnnouncement, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastRefresh == nil {
		return RefreshAnnouncement{}, false
	}
	return *p.lastRefresh, true
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.mu.Lock()
		p.qos = qos
		p.mu.Unlock()
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.mu.Lock()
	p.retain = retain
	p.mu.Unlock()
}
