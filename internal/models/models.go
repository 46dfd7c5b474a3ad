package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

const (
	UserRoleBuyer = "BUYER"
	UserRoleStaff = "STAFF"
)

// Person is the identity behind an attendee. Registrations reference persons, not user accounts.
type Person struct {
	ID             int64     `json:"id"`
	Email          string    `json:"email,omitempty"`
	DocumentType   string    `json:"document_type,omitempty"`
	DocumentNumber string    `json:"document_number,omitempty"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	CredentialID   string    `json:"credential_id,omitempty"`
	IsRiskFlagged  bool      `json:"is_risk_flagged"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type Event struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	EventStatusDraft     = "DRAFT"
	EventStatusPublished = "PUBLISHED"
	EventStatusCancelled = "CANCELLED"
	EventStatusFinished  = "FINISHED"
)

// Sellable reports whether tickets for the event can be bought at now.
func (e *Event) Sellable(now time.Time) bool {
	return e.Status == EventStatusPublished && now.Before(e.EndsAt)
}

// Ended reports whether the event is over at now.
func (e *Event) Ended(now time.Time) bool {
	return e.Status == EventStatusFinished || !now.Before(e.EndsAt)
}

type TicketType struct {
	ID                 int64           `json:"id"`
	EventID            int64           `json:"event_id"`
	Name               string          `json:"name"`
	Price              decimal.Decimal `json:"price"`
	Stock              int             `json:"stock"`
	MaxPerOrder        int             `json:"max_per_order"`
	RequiresCredential bool            `json:"requires_credential"`
	CredentialGroups   []string        `json:"credential_groups,omitempty"`
	AllowsWaitlist     bool            `json:"allows_waitlist"`
	IsActive           bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Version            int             `json:"version"`
}

type Order struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"user_id"`
	OrderNumber      string          `json:"order_number"`
	Status           string          `json:"status"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Currency         string          `json:"currency"`
	BuyerTaxID       string          `json:"buyer_tax_id,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	ExpiresAt        time.Time       `json:"expires_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	ExpiredAt        *time.Time      `json:"expired_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int             `json:"version"`
	Registrations    []Registration  `json:"registrations,omitempty"`
}

const (
	OrderStatusPending   = "PENDING"
	OrderStatusPaid      = "PAID"
	OrderStatusExpired   = "EXPIRED"
	OrderStatusCancelled = "CANCELLED"
)

type Registration struct {
	ID             int64           `json:"id"`
	OrderID        int64           `json:"order_id"`
	EventID        int64           `json:"event_id"`
	TicketTypeID   int64           `json:"ticket_type_id"`
	AttendeeID     int64           `json:"attendee_id"`
	Status         string          `json:"status"`
	TicketCode     string          `json:"ticket_code"`
	OriginalPrice  decimal.Decimal `json:"original_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalPrice     decimal.Decimal `json:"final_price"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
	AttendedAt     *time.Time      `json:"attended_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

const (
	RegistrationStatusPending               = "PENDING"
	RegistrationStatusConfirmed             = "CONFIRMED"
	RegistrationStatusAttended              = "ATTENDED"
	RegistrationStatusCancelled             = "CANCELLED"
	RegistrationStatusExpired               = "EXPIRED"
	RegistrationStatusInDispute             = "IN_DISPUTE"
	RegistrationStatusCancelledByChargeback = "CANCELLED_BY_CHARGEBACK"
)

// ActiveRegistrationStatuses hold a seat and block a second registration for the same attendee and event.
var ActiveRegistrationStatuses = []string{
	RegistrationStatusPending,
	RegistrationStatusConfirmed,
	RegistrationStatusAttended,
	RegistrationStatusInDispute,
}

type PaymentRecord struct {
	ID                    int64           `json:"id"`
	OrderID               int64           `json:"order_id"`
	RegistrationID        *int64          `json:"registration_id,omitempty"`
	UserID                int64           `json:"user_id"`
	Status                string          `json:"status"`
	Amount                decimal.Decimal `json:"amount"`
	Currency              string          `json:"currency"`
	Provider              string          `json:"provider,omitempty"`
	OperationCode         string          `json:"operation_code,omitempty"`
	EvidenceURL           string          `json:"evidence_url,omitempty"`
	ReportedAt            *time.Time      `json:"reported_at,omitempty"`
	ReviewedBy            *int64          `json:"reviewed_by,omitempty"`
	ReviewedAt            *time.Time      `json:"reviewed_at,omitempty"`
	RejectionReason       string          `json:"rejection_reason,omitempty"`
	ChargebackAt          *time.Time      `json:"chargeback_at,omitempty"`
	ChargebackReason      string          `json:"chargeback_reason,omitempty"`
	ChargebackCaseID      string          `json:"chargeback_case_id,omitempty"`
	ChargebackConfirmedAt *time.Time      `json:"chargeback_confirmed_at,omitempty"`
	ChargebackReversedAt  *time.Time      `json:"chargeback_reversed_at,omitempty"`
	RefundedAmount        decimal.Decimal `json:"refunded_amount"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

const (
	PaymentStatusPending            = "PENDING"
	PaymentStatusWaitingApproval    = "WAITING_APPROVAL"
	PaymentStatusCompleted          = "COMPLETED"
	PaymentStatusRejected           = "REJECTED"
	PaymentStatusRefunded           = "REFUNDED"
	PaymentStatusChargeback         = "CHARGEBACK"
	PaymentStatusChargebackReversed = "CHARGEBACK_REVERSED"
)

type Certificate struct {
	ID               int64      `json:"id"`
	RegistrationID   int64      `json:"registration_id"`
	Code             string     `json:"code"`
	Status           string     `json:"status"`
	IssuedAt         time.Time  `json:"issued_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	RevokedBy        *int64     `json:"revoked_by,omitempty"`
}

const (
	CertificateStatusActive  = "ACTIVE"
	CertificateStatusRevoked = "REVOKED"
)

type RefundRequest struct {
	ID               int64           `json:"id"`
	RegistrationID   int64           `json:"registration_id"`
	PaymentID        int64           `json:"payment_id"`
	RequestedBy      int64           `json:"requested_by"`
	Status           string          `json:"status"`
	Reason           string          `json:"reason"`
	Details          string          `json:"details,omitempty"`
	OriginalAmount   decimal.Decimal `json:"original_amount"`
	RefundPercentage decimal.Decimal `json:"refund_percentage"`
	RefundAmount     decimal.Decimal `json:"refund_amount"`
	ReviewNotes      string          `json:"review_notes,omitempty"`
	ReviewedBy       *int64          `json:"reviewed_by,omitempty"`
	ReviewedAt       *time.Time      `json:"reviewed_at,omitempty"`
	ProcessedBy      *int64          `json:"processed_by,omitempty"`
	ProcessingAt     *time.Time      `json:"processing_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	RejectedAt       *time.Time      `json:"rejected_at,omitempty"`
	CreditNoteID     *int64          `json:"credit_note_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

const (
	RefundStatusRequested  = "REQUESTED"
	RefundStatusApproved   = "APPROVED"
	RefundStatusProcessing = "PROCESSING"
	RefundStatusCompleted  = "COMPLETED"
	RefundStatusRejected   = "REJECTED"
)

// RefundPolicyTier grants RefundPercentage when at least DaysBeforeEvent days remain. A nil EventID is global.
type RefundPolicyTier struct {
	ID               int64           `json:"id"`
	EventID          *int64          `json:"event_id,omitempty"`
	DaysBeforeEvent  int             `json:"days_before_event"`
	RefundPercentage decimal.Decimal `json:"refund_percentage"`
}

type FiscalSeriesCounter struct {
	ID              int64     `json:"id"`
	DocumentType    string    `json:"document_type"`
	Series          string    `json:"series"`
	LastCorrelative int64     `json:"last_correlative"`
	Version         int       `json:"version"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type FiscalDocument struct {
	ID                int64           `json:"id"`
	DocumentType      string          `json:"document_type"`
	Series            string          `json:"series"`
	Correlative       int64           `json:"correlative"`
	FullNumber        string          `json:"full_number"`
	OrderID           int64           `json:"order_id"`
	RefundID          *int64          `json:"refund_id,omitempty"`
	RelatedDocumentID *int64          `json:"related_document_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	IssuedAt          time.Time       `json:"issued_at"`
}

const (
	DocumentTypeReceipt    = "RECEIPT"
	DocumentTypeInvoice    = "INVOICE"
	DocumentTypeCreditNote = "CREDIT_NOTE"
)

type Coupon struct {
	ID                 int64           `json:"id"`
	Code               string          `json:"code"`
	DiscountType       string          `json:"discount_type"`
	DiscountValue      decimal.Decimal `json:"discount_value"`
	MaxTotalUses       *int            `json:"max_total_uses,omitempty"`
	MaxUsesPerPerson   int             `json:"max_uses_per_person"`
	CurrentUses        int             `json:"current_uses"`
	ValidFrom          *time.Time      `json:"valid_from,omitempty"`
	ValidUntil         *time.Time      `json:"valid_until,omitempty"`
	IsActive           bool            `json:"is_active"`
	TicketTypeIDs      []int64         `json:"ticket_type_ids,omitempty"`
	RequiresCredential bool            `json:"requires_credential"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

const (
	DiscountTypePercentage  = "PERCENTAGE"
	DiscountTypeFixedAmount = "FIXED_AMOUNT"
)

// CouponUsage is the frozen record of a discount applied to one registration.
type CouponUsage struct {
	ID             int64           `json:"id"`
	CouponID       int64           `json:"coupon_id"`
	RegistrationID int64           `json:"registration_id"`
	PersonID       int64           `json:"person_id"`
	OriginalPrice  decimal.Decimal `json:"original_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalPrice     decimal.Decimal `json:"final_price"`
	CreatedAt      time.Time       `json:"created_at"`
}
