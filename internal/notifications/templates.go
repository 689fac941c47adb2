package notifications

import (
	"fmt"

	"github.com/angelmondragon/subpay-backend/pkg/enums"
)

// TemplateContext carries the values interpolated into canned messages.
type TemplateContext struct {
	PlanName string
	Amount   string
	OrderID  string
	Days     int
}

func render(template enums.NotificationTemplate, tc TemplateContext) (subject, body string) {
	switch template {
	case enums.NotificationSubscriptionCreated:
		return "Subscription created",
			fmt.Sprintf("Your subscription to %s is ready.", tc.PlanName)
	case enums.NotificationPaymentCompleted:
		return "Payment received",
			fmt.Sprintf("We received your payment of %s for order %s.", tc.Amount, tc.OrderID)
	case enums.NotificationPaymentFailed:
		return "Payment failed",
			fmt.Sprintf("Your payment for order %s could not be completed. Please try again.", tc.OrderID)
	case enums.NotificationRefundInitiated:
		return "Refund initiated",
			fmt.Sprintf("A refund of %s for order %s is being processed.", tc.Amount, tc.OrderID)
	case enums.NotificationRefundCompleted:
		return "Refund completed",
			fmt.Sprintf("Your refund of %s for order %s has been completed.", tc.Amount, tc.OrderID)
	case enums.NotificationExpiryWarning:
		return "Subscription expiring soon",
			fmt.Sprintf("Your %s subscription expires in %d days.", tc.PlanName, tc.Days)
	default:
		return string(template), ""
	}
}
