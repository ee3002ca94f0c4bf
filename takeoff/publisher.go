package takeoff

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ChangeOp is the kind of persisted change
type ChangeOp string

const (
	OpCreate ChangeOp = "create"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent is the payload published for every persisted change
type ChangeEvent struct {
	Op        ChangeOp   `json:"op"`
	Kind      EntityKind `json:"kind"`
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	SheetID   string     `json:"sheetId"`
	Timestamp int64      `json:"timestamp"`
}

// Publisher sends change events to <prefix>/<project>/<sheet>/events
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
}

// NewPublisher creates a publisher. A nil client disables publishing.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultPublishPrefix
	}
	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           1,
		retain:        false,
	}
}

// Topic returns the events topic for a sheet
func (p *Publisher) Topic(projectID, sheetID string) string {
	return fmt.Sprintf("%s/%s/%s/events", p.publishPrefix, projectID, sheetID)
}

// Publish sends one change event
func (p *Publisher) Publish(ev ChangeEvent) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling change event: %w", err)
	}

	topic := p.Topic(ev.ProjectID, ev.SheetID)
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages are retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}

// PublishingStore is a Repository that announces every successful change on
// the feed. Publishing failures are logged and never fail the store call.
type PublishingStore struct {
	Repository
	pub *Publisher
	now func() time.Time
}

// NewPublishingStore decorates repo
func NewPublishingStore(repo Repository, pub *Publisher) *PublishingStore {
	return &PublishingStore{Repository: repo, pub: pub, now: time.Now}
}

func (s *PublishingStore) emit(op ChangeOp, kind EntityKind, id, projectID, sheetID string) {
	ev := ChangeEvent{
		Op:        op,
		Kind:      kind,
		ID:        id,
		ProjectID: projectID,
		SheetID:   sheetID,
		Timestamp: s.now().Unix(),
	}
	if err := s.pub.Publish(ev); err != nil {
		log.Printf("[MQTT] change event %s %s %s not published: %v", op, kind, id, err)
	}
}

// CreateMeasurement implements Persistence
func (s *PublishingStore) CreateMeasurement(ctx context.Context, m Measurement) (string, error) {
	id, err := s.Repository.CreateMeasurement(ctx, m)
	if err != nil {
		return "", err
	}
	s.emit(OpCreate, KindMeasurement, id, m.ProjectID, m.SheetID)
	return id, nil
}

// UpdateMeasurement implements Persistence
func (s *PublishingStore) UpdateMeasurement(ctx context.Context, id string, patch MeasurementPatch) error {
	if err := s.Repository.UpdateMeasurement(ctx, id, patch); err != nil {
		return err
	}
	var project, sheet string
	if m, err := s.Repository.GetMeasurement(ctx, id); err == nil {
		project, sheet = m.ProjectID, m.SheetID
	}
	s.emit(OpUpdate, KindMeasurement, id, project, sheet)
	return nil
}

// DeleteMeasurement implements Persistence. The sheet is looked up before the
// row disappears.
func (s *PublishingStore) DeleteMeasurement(ctx context.Context, id string) error {
	var project, sheet string
	if m, err := s.Repository.GetMeasurement(ctx, id); err == nil {
		project, sheet = m.ProjectID, m.SheetID
	}
	if err := s.Repository.DeleteMeasurement(ctx, id); err != nil {
		return err
	}
	s.emit(OpDelete, KindMeasurement, id, project, sheet)
	return nil
}

// CreateAnnotation implements Persistence
func (s *PublishingStore) CreateAnnotation(ctx context.Context, a Annotation) (string, error) {
	id, err := s.Repository.CreateAnnotation(ctx, a)
	if err != nil {
		return "", err
	}
	s.emit(OpCreate, KindAnnotation, id, a.ProjectID, a.SheetID)
	return id, nil
}

// UpdateAnnotation implements Persistence
func (s *PublishingStore) UpdateAnnotation(ctx context.Context, id string, patch AnnotationPatch) error {
	if err := s.Repository.UpdateAnnotation(ctx, id, patch); err != nil {
		return err
	}
	var project, sheet string
	if a, err := s.Repository.GetAnnotation(ctx, id); err == nil {
		project, sheet = a.ProjectID, a.SheetID
	}
	s.emit(OpUpdate, KindAnnotation, id, project, sheet)
	return nil
}

// DeleteAnnotation implements Persistence
func (s *PublishingStore) DeleteAnnotation(ctx context.Context, id string) error {
	var project, sheet string
	if a, err := s.Repository.GetAnnotation(ctx, id); err == nil {
		project, sheet = a.ProjectID, a.SheetID
	}
	if err := s.Repository.DeleteAnnotation(ctx, id); err != nil {
		return err
	}
	s.emit(OpDelete, KindAnnotation, id, project, sheet)
	return nil
}
