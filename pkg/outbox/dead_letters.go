package outbox

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
)

// DeadLetterRepository stores events the publisher stopped retrying.
type DeadLetterRepository struct {
	db *gorm.DB
}

func NewDeadLetterRepository(db *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// InsertTx records entry; a second dead-letter for the same event is ignored.
func (r *DeadLetterRepository) InsertTx(tx *gorm.DB, entry models.OutboxDeadLetter) error {
	if tx == nil {
		tx = r.db
	}
	return tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&entry).Error
}
