package enums

// OutboxEventType names the domain events published from the outbox.
type OutboxEventType string

const (
	OutboxEventSubscriptionCreated   OutboxEventType = "subscription.created"
	OutboxEventSubscriptionActivated OutboxEventType = "subscription.activated"
	OutboxEventSubscriptionExpired   OutboxEventType = "subscription.expired"
	OutboxEventSubscriptionCancelled OutboxEventType = "subscription.cancelled"
	OutboxEventPaymentCompleted      OutboxEventType = "payment.completed"
	OutboxEventPaymentFailed         OutboxEventType = "payment.failed"
	OutboxEventPaymentRefunded       OutboxEventType = "payment.refunded"
)

// String implements fmt.Stringer.
func (o OutboxEventType) String() string {
	return string(o)
}

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	OutboxAggregateSubscription OutboxAggregateType = "subscription"
	OutboxAggregatePayment      OutboxAggregateType = "payment"
)

// String implements fmt.Stringer.
func (o OutboxAggregateType) String() string {
	return string(o)
}

// OutboxStatus tracks delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// String implements fmt.Stringer.
func (o OutboxStatus) String() string {
	return string(o)
}
