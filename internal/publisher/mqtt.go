package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jgoulah/airquality/internal/config"
	"github.com/jgoulah/airquality/pkg/models"
)

const publishTimeout = 10 * time.Second

// Publisher pushes each new snapshot to MQTT and/or Home Assistant
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	haConfig    config.HAConfig
	httpCli     *http.Client
}

// New creates a new publisher (supports both MQTT and HA HTTP API)
func New(mqttCfg config.MQTTConfig, topicPrefix string, haCfg config.HAConfig) (*Publisher, error) {
	// Validate HA config if enabled
	if haCfg.Enabled {
		if haCfg.URL == "" {
			return nil, fmt.Errorf("Home Assistant URL is required when enabled")
		}
		if haCfg.Token == "" {
			return nil, fmt.Errorf("Home Assistant token is required when enabled")
		}
		if haCfg.EntityID == "" {
			return nil, fmt.Errorf("Home Assistant entity_id is required when enabled")
		}
	}

	var client mqtt.Client
	if mqttCfg.Enabled {
		if mqttCfg.Broker == "" {
			return nil, fmt.Errorf("MQTT broker address is required when enabled")
		}

		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", mqttCfg.Broker))
		opts.SetClientID("airquality")
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(10 * time.Second)

		if mqttCfg.Username != "" {
			opts.SetUsername(mqttCfg.Username)
		}
		if mqttCfg.Password != "" {
			opts.SetPassword(mqttCfg.Password)
		}

		// With ConnectRetry the token only completes once connected; after the
		// timeout the client keeps retrying in the background.
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.WaitTimeout(publishTimeout) && token.Error() != nil {
			return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
		}
	}

	return &Publisher{
		client:      client,
		topicPrefix: topicPrefix,
		haConfig:    haCfg,
		httpCli:     &http.Client{Timeout: publishTimeout},
	}, nil
}

// Enabled reports whether any destination is configured
func (p *Publisher) Enabled() bool {
	return p.client != nil || p.haConfig.Enabled
}

// SnapshotTopic is the retained topic carrying the full snapshot JSON
func (p *Publisher) SnapshotTopic() string {
	return p.topicPrefix + "/snapshot"
}

// HAPayload matches the Home Assistant REST state body
type HAPayload struct {
	State      string            `json:"state"`
	Attributes map[string]string `json:"attributes"`
}

// Publish sends the snapshot to every configured destination
func (p *Publisher) Publish(ctx context.Context, snap models.Snapshot) error {
	if p.client != nil {
		if err := p.publishMQTT(ctx, snap); err != nil {
			return err
		}
	}
	if p.haConfig.Enabled {
		if err := p.publishHA(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishMQTT(ctx context.Context, snap models.Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	token := p.client.Publish(p.SnapshotTopic(), 1, true, body)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publishing to MQTT: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to MQTT: %w", err)
	}
	return nil
}

func (p *Publisher) publishHA(ctx context.Context, snap models.Snapshot) error {
	apiURL := fmt.Sprintf("%s/api/states/%s", p.haConfig.URL, url.PathEscape(p.haConfig.EntityID))

	attrs := snap.Map()
	delete(attrs, models.DateColumn)
	payload := HAPayload{
		State:      snap.Date(),
		Attributes: attrs,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.haConfig.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpCli.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	// Home Assistant answers 201 for a new entity and 200 for an update
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
