package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

func TestEmitWritesEnvelope(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()
	orderID := uuid.New()
	actor := uuid.New()

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &ActorRef{ID: actor, Role: RoleBuyer},
			Data:          map[string]string{"hello": "world"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, client.DB().Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, actor, envelope.Actor.ID)
	assert.JSONEq(t, `{"hello":"world"}`, string(envelope.Data))
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventOrderPlaced})
	require.Error(t, err)
}

func TestEmitRejectsMalformedEvents(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	ctx := context.Background()

	cases := map[string]DomainEvent{
		"unknown event type": {EventType: "order_shipped_maybe", AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Data: struct{}{}},
		"unknown aggregate":  {EventType: enums.EventOrderPlaced, AggregateType: "cart", AggregateID: uuid.New(), Data: struct{}{}},
		"missing aggregate":  {EventType: enums.EventOrderPlaced, AggregateType: enums.AggregateOrder, Data: struct{}{}},
		"missing data":       {EventType: enums.EventOrderPlaced, AggregateType: enums.AggregateOrder, AggregateID: uuid.New()},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			err := client.WithTx(ctx, func(tx *gorm.DB) error {
				return svc.Emit(ctx, tx, event)
			})
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
		})
	}

	var count int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitDefaultsActorAndClock(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	svc.now = func() time.Time { return fixed }
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventPayoutScheduled,
			AggregateType: enums.AggregatePayoutSchedule,
			AggregateID:   uuid.New(),
			Data:          map[string]string{"status": "scheduled"},
		})
	}))

	var row models.OutboxEvent
	require.NoError(t, client.DB().First(&row).Error)
	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, RoleSystem, envelope.Actor.Role)
	assert.True(t, envelope.OccurredAt.Equal(fixed))
	assert.Equal(t, time.UTC, envelope.OccurredAt.Location())
}

func TestEmitIfNotExistsDeduplicates(t *testing.T) {
	client := dbtest.Open(t)
	svc := NewService(NewRepository(client.DB()), nil)
	ctx := context.Background()
	event := DomainEvent{
		EventType:     enums.EventInvoiceIssued,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   uuid.New(),
		Data:          map[string]int{"n": 1},
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(ctx, tx, event)
		}))
	}

	var count int64
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	db := client.DB()

	first := models.OutboxEvent{EventType: enums.EventPayoutPaid, AggregateType: enums.AggregatePayoutSchedule, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	second := models.OutboxEvent{EventType: enums.EventPayoutFailed, AggregateType: enums.AggregatePayoutSchedule, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`)}
	require.NoError(t, db.Create(&first).Error)
	require.NoError(t, db.Create(&second).Error)

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, repo.MarkPublishedTx(db, first.ID))
	require.NoError(t, repo.MarkFailedTx(db, second.ID, errors.New("unavailable")))

	rows, err = repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second.ID, rows[0].ID)
	assert.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "unavailable", *rows[0].LastError)

	require.NoError(t, repo.MarkTerminalTx(db, second.ID, errors.New("gone"), 3))
	rows, err = repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDeletePublishedBefore(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	db := client.DB()
	old := time.Now().UTC().Add(-40 * 24 * time.Hour)

	published := models.OutboxEvent{EventType: enums.EventOrderPlaced, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, PublishedAt: &old}
	abandoned := models.OutboxEvent{EventType: enums.EventOrderPlaced, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, AttemptCount: 5}
	pending := models.OutboxEvent{EventType: enums.EventOrderPlaced, AggregateType: enums.AggregateOrder, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old}
	for _, row := range []*models.OutboxEvent{&published, &abandoned, &pending} {
		require.NoError(t, db.Create(row).Error)
	}

	deleted, err := repo.DeletePublishedBefore(context.Background(), db, time.Now().UTC().Add(-30*24*time.Hour), 5)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, pending.ID, remaining[0].ID)
}

func TestDeadLetterInsertIsIdempotent(t *testing.T) {
	client := dbtest.Open(t)
	repo := NewDeadLetterRepository(client.DB())
	msg := "unsupported event type"
	entry := models.OutboxDeadLetter{
		EventID:       uuid.New(),
		EventType:     enums.EventPayoutPaid,
		AggregateType: enums.AggregatePayoutSchedule,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &msg,
		FailedAt:      time.Now().UTC(),
	}
	require.NoError(t, repo.InsertTx(nil, entry))
	require.NoError(t, repo.InsertTx(client.DB(), entry))

	var count int64
	require.NoError(t, client.DB().Model(&models.OutboxDeadLetter{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
