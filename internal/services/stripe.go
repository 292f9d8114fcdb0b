package services

import (
	"fmt"
	"time"

	"sparlo_go_backend/internal/models"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// tierQuotas maps a Stripe price lookup key to the monthly token quota it
// funds. Unlisted tiers fall back to the service default quota.
var tierQuotas = map[string]int64{
	"starter": 500_000,
	"pro":     2_000_000,
	"team":    10_000_000,
}

type StripeService struct {
	db            *gorm.DB
	publicKey     string
	secretKey     string
	webhookSecret string
}

func NewStripeService(db *gorm.DB, publicKey, secretKey, webhookSecret string) *StripeService {
	stripe.Key = secretKey
	return &StripeService{
		db:            db,
		publicKey:     publicKey,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
	}
}

// CreateSubscriptionCheckout opens a Stripe checkout for a report
// subscription tier.
func (s *StripeService) CreateSubscriptionCheckout(userID uuid.UUID, priceID, tier string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String("https://sparlo.app/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String("https://sparlo.app/billing/cancel"),
		ClientReferenceID: stripe.String(userID.String()),
		Metadata: map[string]string{
			"price_tier": tier,
		},
	}

	return session.New(params)
}

// HandleWebhook verifies the Stripe signature and decodes the event.
func (s *StripeService) HandleWebhook(payload []byte, signatureHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, signatureHeader, s.webhookSecret)
}

// ProcessEvent mirrors subscription lifecycle events into the local
// Subscription table, which the period manager reads for billing-aligned
// period boundaries.
func (s *StripeService) ProcessEvent(event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(event)
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		return s.handleSubscriptionChange(event)
	default:
		log.Debug().Str("type", string(event.Type)).Msg("ignoring stripe event")
		return nil
	}
}

func (s *StripeService) handleCheckoutCompleted(event stripe.Event) error {
	var cs stripe.CheckoutSession
	if err := gojson.Unmarshal(event.Data.Raw, &cs); err != nil {
		return fmt.Errorf("failed to decode checkout session: %w", err)
	}
	if cs.ClientReferenceID == "" || cs.Customer == nil {
		return nil
	}
	userID, err := uuid.Parse(cs.ClientReferenceID)
	if err != nil {
		return fmt.Errorf("invalid client reference id %q: %w", cs.ClientReferenceID, err)
	}
	return s.db.Model(&models.User{}).
		Where("id = ?", userID).
		Update("stripe_customer_id", cs.Customer.ID).Error
}

func (s *StripeService) handleSubscriptionChange(event stripe.Event) error {
	var sub stripe.Subscription
	if err := gojson.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to decode subscription: %w", err)
	}
	if sub.Customer == nil {
		return nil
	}

	var user models.User
	if err := s.db.Where("stripe_customer_id = ?", sub.Customer.ID).First(&user).Error; err != nil {
		// Webhooks can arrive before checkout completion links the customer.
		log.Warn().Str("customer", sub.Customer.ID).Msg("subscription event for unknown customer")
		return nil
	}

	tier := ""
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		tier = sub.Items.Data[0].Price.LookupKey
	}

	row := models.Subscription{
		UserID:               user.ID,
		StripeSubscriptionID: sub.ID,
		StripeCustomerID:     sub.Customer.ID,
		Status:               string(sub.Status),
		PriceTier:            tier,
		CurrentPeriodStart:   time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:     time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		MonthlyTokenQuota:    tierQuotas[tier],
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stripe_subscription_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "price_tier", "current_period_start", "current_period_end", "monthly_token_quota", "updated_at",
		}),
	}).Create(&row).Error
}
