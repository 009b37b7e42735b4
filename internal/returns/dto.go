package returns

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// Ineligibility reasons reported by CheckEligibility.
const (
	ReasonNotDelivered     = "not-delivered"
	ReasonWindowExpired    = "window-expired"
	ReasonNoAvailableItems = "no-available-items"
)

// ReviewAction is what a seller does with a requested case.
type ReviewAction string

const (
	ActionApprove        ReviewAction = "approve"
	ActionReject         ReviewAction = "reject"
	ActionRequestInfo    ReviewAction = "request_info"
	ActionProposePartial ReviewAction = "propose_partial"
)

var reviewTargets = map[ReviewAction]enums.ReturnStatus{
	ActionApprove:        enums.ReturnStatusApproved,
	ActionReject:         enums.ReturnStatusRejected,
	ActionRequestInfo:    enums.ReturnStatusInfoRequested,
	ActionProposePartial: enums.ReturnStatusPartialProposed,
}

// ReviewTarget resolves the status an action moves a case to.
func ReviewTarget(action ReviewAction) (enums.ReturnStatus, bool) {
	status, ok := reviewTargets[action]
	return status, ok
}

// Eligibility explains whether a buyer may open a case on a suborder.
type Eligibility struct {
	Eligible       bool
	Reason         string
	Deadline       *time.Time
	AvailableItems []models.OrderItem
}

// CreateInput opens a case. Empty ItemIDs means every available item.
type CreateInput struct {
	SellerOrderID uuid.UUID        `json:"seller_order_id" validate:"required"`
	BuyerID       uuid.UUID        `json:"buyer_id" validate:"required"`
	Type          enums.ReturnType `json:"type" validate:"required"`
	Reason        string           `json:"reason" validate:"required"`
	Description   string           `json:"description" validate:"required"`
	ItemIDs       []uuid.UUID      `json:"item_ids"`
}

// ReviewInput is a seller's decision on a requested case.
type ReviewInput struct {
	CaseID         uuid.UUID        `json:"case_id" validate:"required"`
	SellerID       uuid.UUID        `json:"seller_id" validate:"required"`
	Action         ReviewAction     `json:"action" validate:"required"`
	Note           string           `json:"note"`
	ProposedRefund *decimal.Decimal `json:"proposed_refund"`
}

// MessageInput appends to a case thread.
type MessageInput struct {
	CaseID   uuid.UUID           `json:"case_id" validate:"required"`
	Author   enums.MessageAuthor `json:"author" validate:"required"`
	AuthorID uuid.UUID           `json:"author_id" validate:"required"`
	Body     string              `json:"body" validate:"required"`
}
