package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"RatingFlow/internal/domain/models"
	drepo "RatingFlow/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// Client implements an ObservationStream backed by a ratings feed WebSocket.
type Client struct {
	token          string
	websocketURL   string
	cohorts        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected bool
}

// New creates a new ratings feed ObservationStream.
func New(token, websocketURL string, cohorts []string, reconnectDelay, pingInterval time.Duration) drepo.ObservationStream {
	return &Client{
		token:          token,
		websocketURL:   websocketURL,
		cohorts:        cohorts,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := fmt.Sprintf("%s?token=%s", c.websocketURL, c.token)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	log.Printf("feed: connected")
	return nil
}

// Subscribe subscribes to configured cohorts.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("feed not connected")
	}
	for _, cohort := range c.cohorts {
		msg := map[string]string{"type": "subscribe", "cohort": cohort}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", cohort, err)
		}
		log.Printf("feed: subscribed %s", cohort)
	}
	return nil
}

type feedObservation struct {
	Entity string  `json:"entity"`
	Period int     `json:"period"`
	Grade  string  `json:"grade"`
	Weight float64 `json:"weight"`
	Cohort string  `json:"cohort"`
}

type feedMessage struct {
	Type string            `json:"type"`
	Data []feedObservation `json:"data"`
}

// Read streams observation events and errors.
func (c *Client) Read(ctx context.Context) (<-chan *models.ObservationRecord, <-chan error) {
	records := make(chan *models.ObservationRecord, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(records)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("feed conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("feed read: %w", err)
					return
				}
				var m feedMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-observation frames
					continue
				}
				if m.Type != "ratings" {
					continue
				}
				for _, d := range m.Data {
					rec := &models.ObservationRecord{
						EntityID: d.Entity,
						Period:   d.Period,
						Grade:    d.Grade,
						Weight:   d.Weight,
						Cohort:   d.Cohort,
					}
					select {
					case records <- rec:
					default:
						// drop on backpressure
					}
				}
			}
		}
	}()

	return records, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
