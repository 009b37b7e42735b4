package returns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/orders"
	baserepo "github.com/angelmondragon/packfinderz-settlement/internal/repo"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-settlement/pkg/validation"
)

const defaultWindow = 14 * 24 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type refundApplier interface {
	ApplyRefund(ctx context.Context, tx *gorm.DB, sellerOrderID uuid.UUID, amount decimal.Decimal, reason string) (*models.SellerOrder, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Deps groups the collaborators of the return workflow.
type Deps struct {
	Repo    *Repository
	Orders  orders.Repository
	Refunds refundApplier
	Tx      txRunner
	Outbox  outboxPublisher
	Logger  *logger.Logger
	Window  time.Duration
}

type Service struct {
	repo    *Repository
	orders  orders.Repository
	refunds refundApplier
	tx      txRunner
	outbox  outboxPublisher
	logg    *logger.Logger
	window  time.Duration
	now     func() time.Time
}

func NewService(deps Deps) (*Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("returns repository required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Refunds == nil {
		return nil, fmt.Errorf("refund applier required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	window := deps.Window
	if window <= 0 {
		window = defaultWindow
	}
	return &Service{
		repo:    deps.Repo,
		orders:  deps.Orders,
		refunds: deps.Refunds,
		tx:      deps.Tx,
		outbox:  deps.Outbox,
		logg:    deps.Logger,
		window:  window,
		now:     time.Now,
	}, nil
}

// CheckEligibility reports whether buyerID may open a case on the suborder
// and which items are still available for one.
func (s *Service) CheckEligibility(ctx context.Context, sellerOrderID, buyerID uuid.UUID) (Eligibility, error) {
	so, err := s.loadBuyerSellerOrder(ctx, nil, sellerOrderID, buyerID)
	if err != nil {
		return Eligibility{}, err
	}
	return s.eligibility(ctx, nil, so)
}

func (s *Service) eligibility(ctx context.Context, tx *gorm.DB, so *models.SellerOrder) (Eligibility, error) {
	if so.Status != enums.OrderStatusDelivered || so.DeliveredAt == nil {
		return Eligibility{Reason: ReasonNotDelivered}, nil
	}
	deadline := so.DeliveredAt.UTC().Add(s.window)
	result := Eligibility{Deadline: &deadline}
	if s.now().UTC().After(deadline) {
		result.Reason = ReasonWindowExpired
		return result, nil
	}

	open, err := s.repo.OpenItemIDs(ctx, tx, so.ID)
	if err != nil {
		return Eligibility{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open return items")
	}
	blocked := make(map[uuid.UUID]struct{}, len(open))
	for _, id := range open {
		blocked[id] = struct{}{}
	}
	for _, item := range so.Items {
		if !item.Status.IsActive() {
			continue
		}
		if _, ok := blocked[item.ID]; ok {
			continue
		}
		result.AvailableItems = append(result.AvailableItems, item)
	}
	if len(result.AvailableItems) == 0 {
		result.Reason = ReasonNoAvailableItems
		return result, nil
	}
	result.Eligible = true
	return result, nil
}

// Create opens a return or complaint. An ineligible suborder or an item that
// is not available yields a validation error naming the reason.
func (s *Service) Create(ctx context.Context, input CreateInput) (*models.ReturnRequest, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown return type").
			WithDetails(map[string]any{"type": input.Type})
	}
	reason := strings.TrimSpace(input.Reason)
	description := strings.TrimSpace(input.Description)
	if reason == "" || description == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason and description are required")
	}

	var request *models.ReturnRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		so, err := s.loadBuyerSellerOrder(ctx, tx, input.SellerOrderID, input.BuyerID)
		if err != nil {
			return err
		}
		eligibility, err := s.eligibility(ctx, tx, so)
		if err != nil {
			return err
		}
		if !eligibility.Eligible {
			return pkgerrors.New(pkgerrors.CodeValidation, "seller order is not eligible for a return").
				WithDetails(map[string]any{"reason": eligibility.Reason})
		}
		items, err := selectItems(eligibility.AvailableItems, input.ItemIDs)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		request = &models.ReturnRequest{
			ID:            uuid.New(),
			OrderID:       so.OrderID,
			SellerOrderID: so.ID,
			BuyerID:       so.BuyerID,
			SellerID:      so.SellerID,
			Type:          input.Type,
			Status:        enums.ReturnStatusRequested,
			Reason:        reason,
			Description:   description,
			SellerUnread:  1,
			CreatedAt:     now,
		}
		for _, item := range items {
			request.Items = append(request.Items, models.ReturnRequestItem{ReturnRequestID: request.ID, OrderItemID: item.ID})
		}
		if err := s.repo.Create(ctx, tx, request); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create return request")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnRequested,
			AggregateType: enums.AggregateReturnRequest,
			AggregateID:   request.ID,
			Actor:         &outbox.ActorRef{ID: so.BuyerID, Role: outbox.RoleBuyer},
			OccurredAt:    now,
			Data: payloads.ReturnRequestedEvent{
				ReturnRequestID: request.ID,
				SellerOrderID:   so.ID,
				BuyerID:         so.BuyerID,
				SellerID:        so.SellerID,
				Type:            request.Type,
				ItemCount:       len(request.Items),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithOrderID(ctx, request.OrderID.String())
	logCtx = s.logg.WithField(logCtx, "return_request_id", request.ID.String())
	s.logg.Info(logCtx, "return request created")
	return request, nil
}

// selectItems defaults to every available item and rejects ids that are not available.
func selectItems(available []models.OrderItem, ids []uuid.UUID) ([]models.OrderItem, error) {
	if len(ids) == 0 {
		return available, nil
	}
	byID := make(map[uuid.UUID]models.OrderItem, len(available))
	for _, item := range available {
		byID[item.ID] = item
	}
	selected := make([]models.OrderItem, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	var unavailable []uuid.UUID
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		item, ok := byID[id]
		if !ok {
			unavailable = append(unavailable, id)
			continue
		}
		selected = append(selected, item)
	}
	if len(unavailable) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "items are not available for a return").
			WithDetails(map[string]any{"item_ids": unavailable})
	}
	return selected, nil
}

// SellerReview applies the seller's action to a requested case.
func (s *Service) SellerReview(ctx context.Context, input ReviewInput) (*models.ReturnRequest, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	target, ok := ReviewTarget(input.Action)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown review action").
			WithDetails(map[string]any{"action": input.Action})
	}

	var request *models.ReturnRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		request, err = s.loadForSeller(ctx, tx, input.CaseID, input.SellerID)
		if err != nil {
			return err
		}
		if err := requireStatus(request, enums.ReturnStatusRequested); err != nil {
			return err
		}

		now := s.now().UTC()
		updates := map[string]any{"status": target, "updated_at": now, "buyer_unread": request.BuyerUnread + 1}
		if note := strings.TrimSpace(input.Note); note != "" {
			updates["seller_note"] = note
			request.SellerNote = &note
		}
		if target == enums.ReturnStatusPartialProposed {
			amount, err := s.validateProposal(ctx, tx, request, input.ProposedRefund)
			if err != nil {
				return err
			}
			updates["proposed_refund"] = amount
			request.ProposedRefund = &amount
		}
		if target == enums.ReturnStatusRejected {
			updates["resolved_at"] = now
			request.ResolvedAt = &now
		}
		if err := s.repo.Update(ctx, tx, request.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update return request")
		}
		request.Status = target
		request.BuyerUnread++
		if target == enums.ReturnStatusRejected {
			return s.emitResolved(ctx, tx, request, input.SellerID, outbox.RoleSeller)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *Service) validateProposal(ctx context.Context, tx *gorm.DB, request *models.ReturnRequest, proposed *decimal.Decimal) (decimal.Decimal, error) {
	if proposed == nil || !proposed.IsPositive() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "a positive proposed refund is required")
	}
	contested, err := s.contestedValue(ctx, tx, request)
	if err != nil {
		return decimal.Zero, err
	}
	if proposed.GreaterThan(contested) {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "proposed refund exceeds the contested items").
			WithDetails(map[string]any{"proposed_refund": proposed.String(), "contested": contested.String()})
	}
	return *proposed, nil
}

// BuyerReply answers a seller's information request and hands the case back.
func (s *Service) BuyerReply(ctx context.Context, caseID, buyerID uuid.UUID, body string) (*models.ReturnRequest, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reply body is required")
	}
	var request *models.ReturnRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		request, err = s.loadForBuyer(ctx, tx, caseID, buyerID)
		if err != nil {
			return err
		}
		if err := requireStatus(request, enums.ReturnStatusInfoRequested); err != nil {
			return err
		}
		if err := s.appendMessage(ctx, tx, request, enums.MessageAuthorBuyer, buyerID, body); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, tx, request.ID, map[string]any{"status": enums.ReturnStatusRequested, "updated_at": s.now().UTC()}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update return request")
		}
		request.Status = enums.ReturnStatusRequested
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// BuyerRespondToProposal accepts a partial refund, completing the case, or
// declines it, handing the case back to the seller.
func (s *Service) BuyerRespondToProposal(ctx context.Context, caseID, buyerID uuid.UUID, accept bool) (*models.ReturnRequest, error) {
	var request *models.ReturnRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		request, err = s.loadForBuyer(ctx, tx, caseID, buyerID)
		if err != nil {
			return err
		}
		if err := requireStatus(request, enums.ReturnStatusPartialProposed); err != nil {
			return err
		}
		if !accept {
			if err := s.repo.Update(ctx, tx, request.ID, map[string]any{
				"status":          enums.ReturnStatusRequested,
				"proposed_refund": nil,
				"seller_unread":   request.SellerUnread + 1,
				"updated_at":      s.now().UTC(),
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update return request")
			}
			request.Status = enums.ReturnStatusRequested
			request.ProposedRefund = nil
			request.SellerUnread++
			return nil
		}
		if request.ProposedRefund == nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "case has no proposed refund")
		}
		return s.complete(ctx, tx, request, *request.ProposedRefund, "Partial refund accepted", buyerID, outbox.RoleBuyer)
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// Complete settles an approved case by refunding the contested items.
func (s *Service) Complete(ctx context.Context, caseID, sellerID uuid.UUID) (*models.ReturnRequest, error) {
	var request *models.ReturnRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		request, err = s.loadForSeller(ctx, tx, caseID, sellerID)
		if err != nil {
			return err
		}
		if err := requireStatus(request, enums.ReturnStatusApproved); err != nil {
			return err
		}
		amount, err := s.contestedValue(ctx, tx, request)
		if err != nil {
			return err
		}
		return s.complete(ctx, tx, request, amount, "Return approved", sellerID, outbox.RoleSeller)
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *Service) complete(ctx context.Context, tx *gorm.DB, request *models.ReturnRequest, amount decimal.Decimal, resolution string, actorID uuid.UUID, role string) error {
	so, err := s.ordersRepo(tx).FindSellerOrder(ctx, request.SellerOrderID)
	if err != nil {
		return baserepo.LookupError(err, "seller order")
	}
	if remaining := so.NetAmount(); amount.GreaterThan(remaining) {
		amount = remaining
	}
	if amount.IsPositive() {
		if _, err := s.refunds.ApplyRefund(ctx, tx, so.ID, amount, "Return "+request.ID.String()); err != nil {
			return err
		}
	}
	now := s.now().UTC()
	if err := s.repo.Update(ctx, tx, request.ID, map[string]any{
		"status":        enums.ReturnStatusCompleted,
		"refund_amount": amount,
		"resolution":    resolution,
		"resolved_at":   now,
		"updated_at":    now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete return request")
	}
	request.Status = enums.ReturnStatusCompleted
	request.RefundAmount = &amount
	request.Resolution = &resolution
	request.ResolvedAt = &now
	return s.emitResolved(ctx, tx, request, actorID, role)
}

// PostMessage appends to the thread and bumps the other party's unread counter.
func (s *Service) PostMessage(ctx context.Context, input MessageInput) (*models.ReturnRequestMessage, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if !input.Author.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown message author")
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message body is required")
	}
	var message *models.ReturnRequestMessage
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		request, err := s.loadForParty(ctx, tx, input.CaseID, input.Author, input.AuthorID)
		if err != nil {
			return err
		}
		message = &models.ReturnRequestMessage{
			ReturnRequestID: request.ID,
			Author:          input.Author,
			AuthorID:        input.AuthorID,
			Body:            body,
			CreatedAt:       s.now().UTC(),
		}
		return s.insertMessage(ctx, tx, request, message)
	})
	if err != nil {
		return nil, err
	}
	return message, nil
}

// MarkRead zeroes the reader's unread counter.
func (s *Service) MarkRead(ctx context.Context, caseID uuid.UUID, reader enums.MessageAuthor, readerID uuid.UUID) error {
	if !reader.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown reader")
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		request, err := s.loadForParty(ctx, tx, caseID, reader, readerID)
		if err != nil {
			return err
		}
		column := "buyer_unread"
		if reader == enums.MessageAuthorSeller {
			column = "seller_unread"
		}
		if err := s.repo.Update(ctx, tx, request.ID, map[string]any{column: 0}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark return request read")
		}
		return nil
	})
}

// Get loads a case with its items and messages.
func (s *Service) Get(ctx context.Context, caseID uuid.UUID) (*models.ReturnRequest, error) {
	request, err := s.repo.Find(ctx, nil, caseID)
	if err != nil {
		return nil, baserepo.LookupError(err, "return request")
	}
	return request, nil
}

func (s *Service) appendMessage(ctx context.Context, tx *gorm.DB, request *models.ReturnRequest, author enums.MessageAuthor, authorID uuid.UUID, body string) error {
	return s.insertMessage(ctx, tx, request, &models.ReturnRequestMessage{
		ReturnRequestID: request.ID,
		Author:          author,
		AuthorID:        authorID,
		Body:            body,
		CreatedAt:       s.now().UTC(),
	})
}

func (s *Service) insertMessage(ctx context.Context, tx *gorm.DB, request *models.ReturnRequest, message *models.ReturnRequestMessage) error {
	if err := s.repo.InsertMessage(ctx, tx, message); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert return message")
	}
	column, counter := "seller_unread", &request.SellerUnread
	if message.Author == enums.MessageAuthorSeller {
		column, counter = "buyer_unread", &request.BuyerUnread
	}
	*counter++
	if err := s.repo.Update(ctx, tx, request.ID, map[string]any{column: gorm.Expr(column + " + 1")}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update unread counter")
	}
	request.Messages = append(request.Messages, *message)
	return nil
}

// contestedValue sums the line totals of the case's items.
func (s *Service) contestedValue(ctx context.Context, tx *gorm.DB, request *models.ReturnRequest) (decimal.Decimal, error) {
	so, err := s.ordersRepo(tx).FindSellerOrder(ctx, request.SellerOrderID)
	if err != nil {
		return decimal.Zero, baserepo.LookupError(err, "seller order")
	}
	contested := make(map[uuid.UUID]struct{}, len(request.Items))
	for _, item := range request.Items {
		contested[item.OrderItemID] = struct{}{}
	}
	total := decimal.Zero
	for _, item := range so.Items {
		if _, ok := contested[item.ID]; ok {
			total = total.Add(item.LineTotal)
		}
	}
	return total, nil
}

func (s *Service) emitResolved(ctx context.Context, tx *gorm.DB, request *models.ReturnRequest, actorID uuid.UUID, role string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReturnResolved,
		AggregateType: enums.AggregateReturnRequest,
		AggregateID:   request.ID,
		Actor:         &outbox.ActorRef{ID: actorID, Role: role},
		Data: payloads.ReturnResolvedEvent{
			ReturnRequestID: request.ID,
			SellerOrderID:   request.SellerOrderID,
			Status:          request.Status,
			RefundAmount:    request.RefundAmount,
		},
	})
}

func requireStatus(request *models.ReturnRequest, want enums.ReturnStatus) error {
	if request.Status == want {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, "return request is not in the expected status").
		WithDetails(map[string]any{"status": request.Status, "expected": want})
}

func (s *Service) loadBuyerSellerOrder(ctx context.Context, tx *gorm.DB, sellerOrderID, buyerID uuid.UUID) (*models.SellerOrder, error) {
	so, err := s.ordersRepo(tx).FindSellerOrder(ctx, sellerOrderID)
	if err != nil {
		return nil, baserepo.LookupError(err, "seller order")
	}
	if so.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "seller order belongs to another buyer")
	}
	return so, nil
}

func (s *Service) ordersRepo(tx *gorm.DB) orders.Repository {
	if tx == nil {
		return s.orders
	}
	return s.orders.WithTx(tx)
}

func (s *Service) loadForSeller(ctx context.Context, tx *gorm.DB, caseID, sellerID uuid.UUID) (*models.ReturnRequest, error) {
	request, err := s.repo.FindForSeller(ctx, tx, caseID, sellerID)
	if err == nil {
		return request, nil
	}
	return nil, s.ownershipError(ctx, tx, caseID, err)
}

func (s *Service) loadForBuyer(ctx context.Context, tx *gorm.DB, caseID, buyerID uuid.UUID) (*models.ReturnRequest, error) {
	request, err := s.repo.FindForBuyer(ctx, tx, caseID, buyerID)
	if err == nil {
		return request, nil
	}
	return nil, s.ownershipError(ctx, tx, caseID, err)
}

func (s *Service) loadForParty(ctx context.Context, tx *gorm.DB, caseID uuid.UUID, party enums.MessageAuthor, partyID uuid.UUID) (*models.ReturnRequest, error) {
	if party == enums.MessageAuthorSeller {
		return s.loadForSeller(ctx, tx, caseID, partyID)
	}
	return s.loadForBuyer(ctx, tx, caseID, partyID)
}

// ownershipError tells a case owned by someone else apart from a missing one.
func (s *Service) ownershipError(ctx context.Context, tx *gorm.DB, caseID uuid.UUID, lookupErr error) error {
	if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, lookupErr, "load return request")
	}
	if _, err := s.repo.Find(ctx, tx, caseID); err != nil {
		return baserepo.LookupError(err, "return request")
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "return request belongs to another party")
}
