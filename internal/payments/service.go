package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/subpay-backend/internal/notifications"
	"github.com/angelmondragon/subpay-backend/internal/subscriptions"
	dbpkg "github.com/angelmondragon/subpay-backend/pkg/db"
	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/khalti"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
	"github.com/angelmondragon/subpay-backend/pkg/money"
	"github.com/angelmondragon/subpay-backend/pkg/outbox"
	"github.com/angelmondragon/subpay-backend/pkg/pagination"
)

// Gateway is the slice of the payment gateway client the service consumes.
type Gateway interface {
	Initiate(ctx context.Context, req khalti.InitiateRequest) (*khalti.InitiateResponse, error)
	Verify(ctx context.Context, pidx string) (*khalti.LookupResponse, error)
	Refund(ctx context.Context, req khalti.RefundRequest) (*khalti.RefundResponse, error)
}

// Reconciler applies a gateway lookup result to payment state. Implemented
// by the reconciliation engine; injected to keep the dependency one-way.
type Reconciler interface {
	ReconcileLookup(ctx context.Context, pidx string, lookup *khalti.LookupResponse) (*models.Payment, error)
}

// ServiceParams groups dependencies for the payment service.
type ServiceParams struct {
	DB         *dbpkg.Client
	Repo       Repository
	Subs       subscriptions.Repository
	Gateway    Gateway
	Reconciler Reconciler
	Outbox     *outbox.Service
	Notifier   notifications.Notifier
	Logger     *logger.Logger
	ReturnURL  string
	WebsiteURL string
}

// Service orchestrates payment operations against the gateway.
type Service struct {
	db         *dbpkg.Client
	repo       Repository
	subs       subscriptions.Repository
	gateway    Gateway
	reconciler Reconciler
	outbox     *outbox.Service
	notifier   notifications.Notifier
	logg       *logger.Logger
	returnURL  string
	websiteURL string
}

// NewService builds a payment service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "db client required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment repository required")
	}
	if params.Subs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription repository required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway client required")
	}
	return &Service{
		db:         params.DB,
		repo:       params.Repo,
		subs:       params.Subs,
		gateway:    params.Gateway,
		reconciler: params.Reconciler,
		outbox:     params.Outbox,
		notifier:   params.Notifier,
		logg:       params.Logger,
		returnURL:  params.ReturnURL,
		websiteURL: params.WebsiteURL,
	}, nil
}

// SetReconciler wires the reconciliation engine after construction; the
// engine itself depends on this package's repository.
func (s *Service) SetReconciler(r Reconciler) {
	s.reconciler = r
}

var nonTerminalStatuses = []enums.PaymentStatus{
	enums.PaymentStatusPending,
	enums.PaymentStatusInitiated,
}

// Initiate creates a payment for the subscription's plan price and starts
// it at the gateway. A gateway failure leaves the payment FAILED, never
// stuck in PENDING.
func (s *Service) Initiate(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Payment, error) {
	sub, err := s.subs.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find subscription")
	}
	if sub == nil || (userID != uuid.Nil && sub.UserID != userID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	if sub.Plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription has no plan loaded")
	}

	now := time.Now().UTC()
	payment := models.Payment{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		OrderID:        orderID(sub.ID, now),
		Pidx:           uuid.NewString(), // placeholder until the gateway assigns one
		Amount:         sub.Plan.Price,
		Currency:       paymentCurrency(sub.Plan),
		AmountPaisa:    money.ToMinorUnit(sub.Plan.Price),
		Status:         enums.PaymentStatusPending,
	}
	if err := s.repo.Create(ctx, &payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}

	return s.runInitiation(ctx, &payment, sub.Plan.Name)
}

// Retry resets a failed payment and re-runs gateway initiation under a
// fresh order id.
func (s *Service) Retry(ctx context.Context, userID, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.getOwned(ctx, userID, paymentID)
	if err != nil {
		return nil, err
	}
	if err := Retry(payment); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	payment.OrderID = orderID(payment.SubscriptionID, now)
	payment.Pidx = uuid.NewString()
	if err := s.repo.Update(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist retry")
	}

	planName := ""
	if payment.Subscription != nil && payment.Subscription.Plan != nil {
		planName = payment.Subscription.Plan.Name
	}
	return s.runInitiation(ctx, payment, planName)
}

func (s *Service) runInitiation(ctx context.Context, payment *models.Payment, planName string) (*models.Payment, error) {
	resp, gatewayErr := s.gateway.Initiate(ctx, khalti.InitiateRequest{
		Amount:            payment.Amount,
		PurchaseOrderID:   payment.OrderID,
		PurchaseOrderName: planName,
		ReturnURL:         s.returnURL,
		WebsiteURL:        s.websiteURL,
	})
	now := time.Now().UTC()

	if gatewayErr != nil {
		reason := gatewayErr.Error()
		if _, err := s.repo.UpdateIfStatusIn(ctx, payment.ID, nonTerminalStatuses, map[string]any{
			"status":         enums.PaymentStatusFailed,
			"failure_reason": reason,
			"failed_at":      now,
		}); err != nil && s.logg != nil {
			s.logg.Error(ctx, "marking payment failed after gateway error", err)
		}
		payment.Status = enums.PaymentStatusFailed
		payment.FailureReason = &reason
		payment.FailedAt = &now
		return payment, gatewayErr
	}

	promoted, err := s.repo.UpdateIfStatusIn(ctx, payment.ID,
		[]enums.PaymentStatus{enums.PaymentStatusPending},
		map[string]any{
			"status":       enums.PaymentStatusInitiated,
			"pidx":         resp.Pidx,
			"payment_url":  resp.PaymentURL,
			"initiated_at": now,
		})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist initiation")
	}
	if promoted {
		payment.Status = enums.PaymentStatusInitiated
		payment.Pidx = resp.Pidx
		payment.PaymentURL = &resp.PaymentURL
		payment.InitiatedAt = &now
	}
	return payment, nil
}

// Verify polls the gateway for the payment's current state and reconciles
// any terminal outcome it reports.
func (s *Service) Verify(ctx context.Context, userID, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.getOwned(ctx, userID, paymentID)
	if err != nil {
		return nil, err
	}

	lookup, err := s.gateway.Verify(ctx, payment.Pidx)
	if err != nil {
		return nil, err
	}

	if s.reconciler != nil {
		reconciled, err := s.reconciler.ReconcileLookup(ctx, payment.Pidx, lookup)
		if err != nil {
			return nil, err
		}
		if reconciled != nil {
			return reconciled, nil
		}
	}
	return payment, nil
}

// InitiateRefund submits a refund at the gateway and applies it locally.
// Privileged operation.
func (s *Service) InitiateRefund(ctx context.Context, paymentID uuid.UUID, amount *decimal.Decimal, reason string) (*models.Payment, error) {
	payment, err := s.getOwned(ctx, uuid.Nil, paymentID)
	if err != nil {
		return nil, err
	}

	// Validate the transition on a copy before spending a gateway call.
	staged := *payment
	if err := ApplyRefund(&staged, amount, reason, time.Now().UTC()); err != nil {
		return nil, err
	}

	req := khalti.RefundRequest{Pidx: payment.Pidx, Reason: reason}
	if amount != nil {
		req.Amount = *amount
	}
	if _, err := s.gateway.Refund(ctx, req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := ApplyRefund(payment, amount, reason, now); err != nil {
		return nil, err
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.repo.WithTx(tx).UpdateIfStatusIn(ctx, payment.ID,
			[]enums.PaymentStatus{enums.PaymentStatusCompleted},
			map[string]any{
				"status":        enums.PaymentStatusRefunded,
				"refund_amount": payment.RefundAmount,
				"refund_reason": payment.RefundReason,
				"refunded_at":   now,
			})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist refund")
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment changed state during refund")
		}
		if s.outbox == nil {
			return nil
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.OutboxEventPaymentRefunded,
			AggregateType: enums.OutboxAggregatePayment,
			AggregateID:   payment.ID,
			Actor:         &outbox.ActorRef{UserID: payment.UserID, SubscriptionID: &payment.SubscriptionID},
			Data: map[string]any{
				"paymentId": payment.ID.String(),
				"amount":    payment.RefundAmount.String(),
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, payment.UserID, enums.NotificationRefundInitiated, notifications.TemplateContext{
			Amount:  payment.RefundAmount.String(),
			OrderID: payment.OrderID,
		})
	}
	return payment, nil
}

// Get returns the payment when owned by the user.
func (s *Service) Get(ctx context.Context, userID, paymentID uuid.UUID) (*models.Payment, error) {
	return s.getOwned(ctx, userID, paymentID)
}

// ListParams configures the user payment listing.
type ListParams struct {
	UserID uuid.UUID
	Status *enums.PaymentStatus
	Limit  int
	Cursor string
}

// ListResult wraps returned payments and the cursor for the next page.
type ListResult struct {
	Items  []models.Payment `json:"items"`
	Cursor string           `json:"cursor"`
}

// List returns the user's payments, newest first.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	query := ListQuery{UserID: params.UserID, Status: params.Status, Limit: params.Limit}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.ListByUser(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

func (s *Service) getOwned(ctx context.Context, userID, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find payment")
	}
	if payment == nil || (userID != uuid.Nil && payment.UserID != userID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

func orderID(subscriptionID uuid.UUID, now time.Time) string {
	return fmt.Sprintf("SUB-%s-%d", subscriptionID, now.UnixNano())
}

func paymentCurrency(plan *models.SubscriptionPlan) string {
	if plan == nil || plan.Currency == "" {
		return "NPR"
	}
	return plan.Currency
}
