package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fieldtrack/attendance/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// Event subjects
const (
	// Attendance events
	AttendanceClockIn  = "attendance.clock_in"
	AttendanceClockOut = "attendance.clock_out"
	AttendanceFlagged  = "attendance.flagged"

	// Sync events
	SyncBatchCompleted = "sync.batch_completed"

	// Session events
	SessionCreated     = "session.created"
	SessionInvalidated = "session.invalidated"
)

// Event payloads
type ClockEvent struct {
	AttendanceID     int64      `json:"attendance_id"`
	UserID           int64      `json:"user_id"`
	FacilityID       int64      `json:"facility_id"`
	ClockInTime      time.Time  `json:"clock_in_time"`
	ClockOutTime     *time.Time `json:"clock_out_time,omitempty"`
	ValidationStatus string     `json:"validation_status"`
	DistanceMeters   *float64   `json:"distance_meters,omitempty"`
	Offline          bool       `json:"offline"`
}

type AttendanceFlaggedEvent struct {
	AttendanceID int64    `json:"attendance_id"`
	UserID       int64    `json:"user_id"`
	FacilityID   int64    `json:"facility_id"`
	Warnings     []string `json:"warnings"`
	Flags        []string `json:"flags"`
}

type SyncBatchCompletedEvent struct {
	UserID    int64     `json:"user_id"`
	DeviceID  string    `json:"device_id,omitempty"`
	Inserted  int       `json:"inserted"`
	Updated   int       `json:"updated"`
	Conflicts int       `json:"conflicts"`
	Errors    int       `json:"errors"`
	FinishedAt time.Time `json:"finished_at"`
}

type SessionEvent struct {
	SessionID int64  `json:"session_id"`
	UserID    int64  `json:"user_id"`
	Reason    string `json:"reason,omitempty"`
}
