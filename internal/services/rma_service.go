package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/storage"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/textutil"
	"github.com/Sad0asc0Sh/user-sub000/internal/repositories"
)

const (
	rmaIDPrefix           = "rma_"
	defaultReturnWindow   = 14 * 24 * time.Hour
	maxRMAReasonRunes     = 1000
	maxRMAEvidenceUploads = 5
	defaultRMAPage        = 20
	maxRMAPage            = 100
)

// RMAServiceDeps bundles collaborators required to construct the RMA service.
type RMAServiceDeps struct {
	RMAs        repositories.RMARepository
	Orders      repositories.OrderRepository
	Evidence    EvidenceStorage
	Events      EventPublisher
	Settings    domain.StoreSettings
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type rmaService struct {
	rmas         repositories.RMARepository
	orders       repositories.OrderRepository
	evidence     EvidenceStorage
	events       EventPublisher
	returnWindow time.Duration
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

// NewRMAService constructs the return request service.
func NewRMAService(deps RMAServiceDeps) (RMAService, error) {
	if deps.RMAs == nil {
		return nil, errors.New("rma service: rma repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("rma service: order repository is required")
	}
	window := deps.Settings.Checkout.ReturnWindow
	if window <= 0 {
		window = defaultReturnWindow
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &rmaService{
		rmas:         deps.RMAs,
		orders:       deps.Orders,
		evidence:     deps.Evidence,
		events:       deps.Events,
		returnWindow: window,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateRMA opens a return against a delivered order inside the return window. Quantities already
// claimed by other live returns of the same order count against what may be returned.
func (s *rmaService) CreateRMA(ctx context.Context, cmd CreateRMACommand) (RMA, error) {
	uid := strings.TrimSpace(cmd.UserID)
	orderID := strings.TrimSpace(cmd.OrderID)
	if uid == "" || orderID == "" {
		return RMA{}, validationError("user id and order id are required")
	}
	reason := textutil.PlainText(cmd.Reason, maxRMAReasonRunes)
	if reason == "" {
		return RMA{}, validationError("a return reason is required")
	}
	if len(cmd.Items) == 0 {
		return RMA{}, validationError("at least one item must be returned")
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return RMA{}, mapRepositoryError("order", err)
	}
	if order.UserID != uid {
		return RMA{}, fmt.Errorf("%w: order", ErrNotFound)
	}
	now := s.clock()
	if order.Status != domain.OrderStatusDelivered || order.DeliveredAt == nil {
		return RMA{}, validationError("order %s has not been delivered", orderID)
	}
	if now.Sub(*order.DeliveredAt) > s.returnWindow {
		return RMA{}, validationError("the return window for order %s has closed", orderID)
	}

	existing, err := s.rmas.ListByOrder(ctx, orderID)
	if err != nil {
		return RMA{}, mapRepositoryError("rma", err)
	}
	claimed := make(map[string]int)
	for _, rma := range existing {
		if !claimsQuantity(rma.Status) {
			continue
		}
		for _, item := range rma.Items {
			claimed[item.Key()] += item.Quantity
		}
	}

	items, err := returnedItems(order, cmd.Items, claimed)
	if err != nil {
		return RMA{}, err
	}

	rma := RMA{
		ID:      rmaIDPrefix + s.newID(),
		OrderID: order.ID,
		UserID:  uid,
		Items:   items,
		Reason:  reason,
		Status:  domain.RMAStatusPending,
		StatusHistory: []domain.StatusChange{{
			To:        string(domain.RMAStatusPending),
			ActorID:   uid,
			ChangedAt: now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.rmas.Insert(ctx, rma); err != nil {
		return RMA{}, mapRepositoryError("rma", err)
	}
	s.logger(ctx, "rma.created", map[string]any{"rmaId": rma.ID, "orderId": order.ID, "lines": len(items)})
	s.publish(ctx, DomainEvent{
		Type:       EventRMACreated,
		OrderID:    order.ID,
		RMAID:      rma.ID,
		UserID:     uid,
		Status:     string(rma.Status),
		ActorID:    uid,
		Amount:     rma.ReturnedSubtotal(),
		Currency:   order.Currency,
		OccurredAt: now,
	})
	return rma, nil
}

func (s *rmaService) GetRMA(ctx context.Context, query RMAQuery) (RMA, error) {
	rmaID := strings.TrimSpace(query.RMAID)
	if rmaID == "" {
		return RMA{}, validationError("rma id is required")
	}
	rma, err := s.rmas.FindByID(ctx, rmaID)
	if err != nil {
		return RMA{}, mapRepositoryError("rma", err)
	}
	if !query.IsAdmin && rma.UserID != strings.TrimSpace(query.UserID) {
		return RMA{}, fmt.Errorf("%w: rma", ErrNotFound)
	}
	return rma, nil
}

func (s *rmaService) ListRMAs(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[RMA], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[RMA]{}, validationError("user id is required")
	}
	pager.PageSize = clampPageSize(pager.PageSize, defaultRMAPage, maxRMAPage)
	page, err := s.rmas.List(ctx, repositories.RMAListFilter{UserID: uid, Pagination: pager})
	if err != nil {
		return domain.CursorPage[RMA]{}, mapRepositoryError("rma", err)
	}
	return page, nil
}

func (s *rmaService) ListRMAsForAdmin(ctx context.Context, filter AdminRMAFilter) (domain.CursorPage[RMA], error) {
	for _, status := range filter.Status {
		if _, ok := ParseRMAStatus(string(status)); !ok {
			return domain.CursorPage[RMA]{}, validationError("unknown rma status %q", status)
		}
	}
	pager := filter.Pagination
	pager.PageSize = clampPageSize(pager.PageSize, defaultRMAPage, maxRMAPage)
	page, err := s.rmas.List(ctx, repositories.RMAListFilter{Status: filter.Status, Pagination: pager})
	if err != nil {
		return domain.CursorPage[RMA]{}, mapRepositoryError("rma", err)
	}
	return page, nil
}

// TransitionStatus moves an RMA along its table. The refund amount is fixed at approval and a
// completed RMA accepts no further writes.
func (s *rmaService) TransitionStatus(ctx context.Context, cmd RMAStatusCommand) (RMA, error) {
	rmaID := strings.TrimSpace(cmd.RMAID)
	if rmaID == "" {
		return RMA{}, validationError("rma id is required")
	}
	target, ok := ParseRMAStatus(string(cmd.TargetStatus))
	if !ok {
		return RMA{}, validationError("unknown rma status %q", cmd.TargetStatus)
	}
	if cmd.RefundAmount != nil && target != domain.RMAStatusApproved {
		return RMA{}, validationError("a refund amount can only be set when approving")
	}
	if target == domain.RMAStatusApproved && cmd.RefundAmount == nil {
		return RMA{}, validationError("approving requires a refund amount")
	}
	actor := strings.TrimSpace(cmd.ActorID)
	notes := textutil.PlainText(cmd.AdminNotes, maxOrderNoteLength)
	now := s.clock()

	var previous RMAStatus
	updated, err := s.rmas.Update(ctx, rmaID, func(rma *RMA) error {
		previous = rma.Status
		if rma.Status == domain.RMAStatusCompleted {
			return fmt.Errorf("%w: rma %s is completed", ErrInvalidTransition, rma.ID)
		}
		if !canTransitionRMA(rma.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rma.Status, target)
		}
		if target == domain.RMAStatusApproved {
			refund := *cmd.RefundAmount
			if subtotal := rma.ReturnedSubtotal(); refund <= 0 || refund > subtotal {
				return validationError("refund amount must be between 1 and %d", subtotal)
			}
			rma.RefundAmount = refund
		}
		if target == domain.RMAStatusCompleted {
			rma.CompletedAt = &now
		}
		if notes != "" {
			rma.AdminNotes = notes
		}
		rma.Status = target
		rma.UpdatedAt = now
		rma.StatusHistory = append(rma.StatusHistory, domain.StatusChange{
			From:      string(previous),
			To:        string(target),
			ActorID:   actor,
			ChangedAt: now,
		})
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrValidation) {
			return RMA{}, err
		}
		return RMA{}, mapRepositoryError("rma", err)
	}

	s.logger(ctx, "rma.status.changed", map[string]any{
		"rmaId":   updated.ID,
		"from":    string(previous),
		"to":      string(updated.Status),
		"actorId": actor,
	})
	event := DomainEvent{
		Type:           EventRMAStatusChanged,
		OrderID:        updated.OrderID,
		RMAID:          updated.ID,
		UserID:         updated.UserID,
		Status:         string(updated.Status),
		PreviousStatus: string(previous),
		ActorID:        actor,
		Amount:         updated.RefundAmount,
		OccurredAt:     now,
	}
	if updated.Status == domain.RMAStatusCompleted {
		event.Type = EventRMACompleted
	}
	s.publish(ctx, event)
	return updated, nil
}

// CreateEvidenceUpload signs an upload for a photo of the returned goods while the RMA is pending.
func (s *rmaService) CreateEvidenceUpload(ctx context.Context, cmd EvidenceUploadCommand) (EvidenceUpload, error) {
	if s.evidence == nil {
		return EvidenceUpload{}, fmt.Errorf("%w: evidence storage is not configured", ErrUnavailable)
	}
	rma, err := s.GetRMA(ctx, RMAQuery{RMAID: cmd.RMAID, UserID: cmd.UserID})
	if err != nil {
		return EvidenceUpload{}, err
	}
	if err := acceptsEvidence(rma); err != nil {
		return EvidenceUpload{}, err
	}

	upload, err := s.evidence.SignEvidenceUpload(ctx, rma.ID, cmd.ContentType)
	if err != nil {
		if errors.Is(err, storage.ErrContentTypeDenied) {
			return EvidenceUpload{}, validationError("unsupported evidence type %q", cmd.ContentType)
		}
		return EvidenceUpload{}, fmt.Errorf("%w: sign evidence upload: %v", ErrUnavailable, err)
	}

	now := s.clock()
	_, err = s.rmas.Update(ctx, rma.ID, func(current *RMA) error {
		if err := acceptsEvidence(*current); err != nil {
			return err
		}
		current.Evidence = append(current.Evidence, upload.ObjectPath)
		current.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrValidation) {
			return EvidenceUpload{}, err
		}
		return EvidenceUpload{}, mapRepositoryError("rma", err)
	}
	s.logger(ctx, "rma.evidence.signed", map[string]any{"rmaId": rma.ID, "object": upload.ObjectPath})
	return upload, nil
}

func acceptsEvidence(rma RMA) error {
	if rma.Status != domain.RMAStatusPending {
		return fmt.Errorf("%w: evidence can only be added while the return is pending", ErrInvalidTransition)
	}
	if len(rma.Evidence) >= maxRMAEvidenceUploads {
		return validationError("at most %d evidence photos may be attached", maxRMAEvidenceUploads)
	}
	return nil
}

// returnedItems matches requested lines against the order, merging repeats of the same line.
func returnedItems(order Order, requested []CreateRMAItem, claimed map[string]int) ([]RMAItem, error) {
	lines := make(map[string]OrderItem, len(order.Items))
	for _, item := range order.Items {
		lines[item.Key()] = item
	}
	quantities := make(map[string]int, len(requested))
	keys := make([]string, 0, len(requested))
	for _, req := range requested {
		if req.Quantity < 1 {
			return nil, validationError("return quantity for %s must be at least 1", req.ProductID)
		}
		key := domain.CartItemKey(req.ProductID, req.VariantOptions)
		if _, ok := lines[key]; !ok {
			return nil, validationError("product %s is not part of order %s", req.ProductID, order.ID)
		}
		if _, seen := quantities[key]; !seen {
			keys = append(keys, key)
		}
		quantities[key] += req.Quantity
	}
	slices.Sort(keys)

	items := make([]RMAItem, 0, len(keys))
	for _, key := range keys {
		line := lines[key]
		remaining := line.Quantity - claimed[key]
		if quantities[key] > remaining {
			return nil, validationError("only %d of %s can still be returned", max(remaining, 0), line.ProductID)
		}
		items = append(items, RMAItem{
			ProductID:      line.ProductID,
			Name:           line.Name,
			Price:          line.Price,
			Quantity:       quantities[key],
			VariantOptions: slices.Clone(line.VariantOptions),
		})
	}
	return items, nil
}

func (s *rmaService) publish(ctx context.Context, event DomainEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger(ctx, "rma.event.publish.failed", map[string]any{
			"type":  event.Type,
			"rmaId": event.RMAID,
			"error": err.Error(),
		})
	}
}
