package refunds

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/eligibility"
	"github.com/safar/go-ticket-store/internal/fiscal"
	"github.com/safar/go-ticket-store/internal/models"
	"github.com/safar/go-ticket-store/internal/orders"
	"github.com/safar/go-ticket-store/internal/store"
	"github.com/safar/go-ticket-store/internal/testutil"
)

type fixture struct {
	db      *sql.DB
	orders  *orders.Service
	refunds *Service
	buyer   *models.User
	staff   *models.User
	clock   *testutil.FixedClock
	seq     int
}

func newFixture(t *testing.T) (*fixture, context.Context) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	clock := testutil.NewFixedClock(time.Now().UTC().Truncate(time.Second))

	checker := eligibility.NewChecker(eligibility.StaticRegistry{})
	ordersSvc, err := orders.New(orders.Deps{DB: db, Eligibility: checker, Clock: clock.Now, MaxRetries: 10})
	require.NoError(t, err)
	refundsSvc, err := New(Deps{DB: db, Orders: ordersSvc, Fiscal: fiscal.NewIssuer("B001", "F001"), Clock: clock.Now})
	require.NoError(t, err)

	return &fixture{
		db:      db,
		orders:  ordersSvc,
		refunds: refundsSvc,
		buyer:   testutil.SeedUser(t, db, models.UserRoleBuyer),
		staff:   testutil.SeedUser(t, db, models.UserRoleStaff),
		clock:   clock,
	}, context.Background()
}

// paidSeats buys and pays one order of seats at a new event starting after startsIn.
func (f *fixture) paidSeats(t *testing.T, ctx context.Context, startsIn time.Duration, price string, seats int) (*models.Event, []models.Registration) {
	t.Helper()
	ev := testutil.SeedEvent(t, f.db, f.clock.Now().Add(startsIn))
	tt := testutil.SeedTicketType(t, f.db, ev.ID, price, 10)

	attendees := make([]orders.Attendee, 0, seats)
	for i := 0; i < seats; i++ {
		f.seq++
		attendees = append(attendees, orders.Attendee{
			DocumentNumber: fmt.Sprintf("7%07d", f.seq), FirstName: "Luis", LastName: "Mamani",
		})
	}
	summary, err := f.orders.CreateOrder(ctx, orders.Buyer{UserID: f.buyer.ID}, []orders.Item{{
		TicketTypeID: tt.ID,
		Quantity:     seats,
		Attendees:    attendees,
	}}, nil)
	require.NoError(t, err)
	_, err = f.orders.MarkPaid(ctx, summary.OrderID, f.staff.ID, fmt.Sprintf("OP-%d", f.seq))
	require.NoError(t, err)

	regs, err := store.ListRegistrationsByOrder(ctx, f.db, summary.OrderID)
	require.NoError(t, err)
	require.Len(t, regs, seats)
	return ev, regs
}

func (f *fixture) paidRegistration(t *testing.T, ctx context.Context, startsIn time.Duration, price string) (*models.Event, models.Registration) {
	t.Helper()
	ev, regs := f.paidSeats(t, ctx, startsIn, price, 1)
	return ev, regs[0]
}

func TestRefundPolicyBoundaries(t *testing.T) {
	f, ctx := newFixture(t)

	_, at30 := f.paidRegistration(t, ctx, 30*24*time.Hour, "100.00")
	r, err := f.refunds.RequestRefund(ctx, at30.ID, f.buyer.ID, "cannot attend", "")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusRequested, r.Status)
	assert.True(t, r.RefundPercentage.Equal(decimal.NewFromInt(80)), "got %s", r.RefundPercentage)
	assert.Equal(t, "80.00", r.RefundAmount.StringFixed(2))

	_, at6 := f.paidRegistration(t, ctx, 6*24*time.Hour, "100.00")
	r, err = f.refunds.RequestRefund(ctx, at6.ID, f.buyer.ID, "cannot attend", "")
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusRejected, r.Status)
	assert.True(t, r.RefundPercentage.IsZero())
	assert.Equal(t, zeroTierReason, r.ReviewNotes)

	// A rejected request does not block a new one.
	_, err = f.refunds.RequestRefund(ctx, at6.ID, f.buyer.ID, "again", "")
	require.NoError(t, err)
}

func TestRequestRefundPreconditions(t *testing.T) {
	f, ctx := newFixture(t)
	_, reg := f.paidRegistration(t, ctx, 40*24*time.Hour, "50.00")

	_, err := f.refunds.RequestRefund(ctx, reg.ID, f.staff.ID, "not mine", "")
	assert.True(t, errors.Is(err, database.ErrForbidden), "got %v", err)

	_, err = f.refunds.RequestRefund(ctx, reg.ID, f.buyer.ID, " ", "")
	assert.True(t, errors.Is(err, database.ErrInvalidInput), "got %v", err)

	_, err = f.refunds.RequestRefund(ctx, reg.ID, f.buyer.ID, "travel", "flight cancelled")
	require.NoError(t, err)
	_, err = f.refunds.RequestRefund(ctx, reg.ID, f.buyer.ID, "travel", "")
	assert.True(t, errors.Is(err, store.ErrRefundAlreadyOpen), "got %v", err)

	_, attended := f.paidRegistration(t, ctx, 40*24*time.Hour, "50.00")
	_, err = f.orders.CheckIn(ctx, attended.TicketCode, f.staff.ID)
	require.NoError(t, err)
	_, err = f.refunds.RequestRefund(ctx, attended.ID, f.buyer.ID, "left early", "")
	assert.True(t, errors.Is(err, database.ErrInvalidState), "got %v", err)

	// A recorded check-in blocks refunds whatever the current status says.
	_, err = f.db.ExecContext(ctx, `UPDATE registrations SET status = 'CONFIRMED' WHERE id = $1`, attended.ID)
	require.NoError(t, err)
	_, err = f.refunds.RequestRefund(ctx, attended.ID, f.buyer.ID, "left early", "")
	assert.True(t, errors.Is(err, database.ErrInvalidState), "got %v", err)
}

func TestFullRefundIssuesCreditNote(t *testing.T) {
	f, ctx := newFixture(t)
	_, reg := f.paidRegistration(t, ctx, 10*24*time.Hour, "150.00")

	r, err := f.refunds.RequestRefund(ctx, reg.ID, f.buyer.ID, "event moved", "")
	require.NoError(t, err)
	assert.True(t, r.RefundPercentage.Equal(decimal.NewFromInt(50)))

	_, err = f.refunds.ProcessRefund(ctx, r.ID, f.staff.ID)
	assert.True(t, errors.Is(err, database.ErrInvalidState), "process before approval: %v", err)

	full := decimal.NewFromInt(100)
	_, err = f.refunds.ReviewRefund(ctx, r.ID, f.buyer.ID, true, "", &full)
	assert.True(t, errors.Is(err, database.ErrForbidden), "got %v", err)

	approved, err := f.refunds.ReviewRefund(ctx, r.ID, f.staff.ID, true, "organizer moved the date", &full)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusApproved, approved.Status)
	assert.Equal(t, "150.00", approved.RefundAmount.StringFixed(2))

	done, err := f.refunds.ProcessRefund(ctx, r.ID, f.staff.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusCompleted, done.Status)
	require.NotNil(t, done.CreditNoteID)

	p, err := store.GetPayment(ctx, f.db, done.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, p.Status)
	assert.Equal(t, "150.00", p.RefundedAmount.StringFixed(2))

	cancelled, err := store.GetRegistration(ctx, f.db, reg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RegistrationStatusCancelled, cancelled.Status)

	docs, err := store.ListFiscalDocumentsByOrder(ctx, f.db, reg.OrderID)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	note := docs[1]
	assert.Equal(t, models.DocumentTypeCreditNote, note.DocumentType)
	assert.Equal(t, "BC01-00000001", note.FullNumber)
	assert.Equal(t, docs[0].ID, *note.RelatedDocumentID)
	assert.Equal(t, "150.00", note.Amount.StringFixed(2))
}

func TestPartialRefundResumesFromProcessing(t *testing.T) {
	f, ctx := newFixture(t)
	_, reg := f.paidRegistration(t, ctx, 10*24*time.Hour, "80.00")

	r, err := f.refunds.RequestRefund(ctx, reg.ID, f.buyer.ID, "schedule clash", "")
	require.NoError(t, err)
	_, err = f.refunds.ReviewRefund(ctx, r.ID, f.staff.ID, true, "", nil)
	require.NoError(t, err)

	f.refunds.processStep = func(step string) error {
		if step == "credit_note" {
			return errors.New("injected failure")
		}
		return nil
	}
	_, err = f.refunds.ProcessRefund(ctx, r.ID, f.staff.ID)
	require.Error(t, err)

	stuck, err := f.refunds.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusProcessing, stuck.Status)
	p, err := store.GetPayment(ctx, f.db, r.PaymentID)
	require.NoError(t, err)
	assert.True(t, p.RefundedAmount.IsZero())

	f.refunds.processStep = func(string) error { return nil }
	done, err := f.refunds.ProcessRefund(ctx, r.ID, f.staff.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusCompleted, done.Status)

	p, err = store.GetPayment(ctx, f.db, r.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	assert.Equal(t, "40.00", p.RefundedAmount.StringFixed(2))

	_, err = f.refunds.ProcessRefund(ctx, r.ID, f.staff.ID)
	assert.True(t, errors.Is(err, database.ErrInvalidState), "got %v", err)
}

func TestRejectRefund(t *testing.T) {
	f, ctx := newFixture(t)
	_, reg := f.paidRegistration(t, ctx, 60*24*time.Hour, "80.00")

	r, err := f.refunds.RequestRefund(ctx, reg.ID, f.buyer.ID, "changed mind", "")
	require.NoError(t, err)

	_, err = f.refunds.ReviewRefund(ctx, r.ID, f.staff.ID, false, "", nil)
	assert.True(t, errors.Is(err, database.ErrInvalidInput), "got %v", err)

	rejected, err := f.refunds.ReviewRefund(ctx, r.ID, f.staff.ID, false, "outside policy", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusRejected, rejected.Status)
	assert.NotNil(t, rejected.RejectedAt)
}

func TestListRefundPolicySources(t *testing.T) {
	f, ctx := newFixture(t)
	ev := testutil.SeedEvent(t, f.db, f.clock.Now().Add(24*time.Hour))

	policy, err := f.refunds.ListRefundPolicy(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, PolicySourceDefault, policy.Source)

	_, err = store.InsertRefundPolicyTier(ctx, f.db, nil, 14, decimal.NewFromInt(60))
	require.NoError(t, err)
	policy, err = f.refunds.ListRefundPolicy(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, PolicySourceGlobal, policy.Source)

	_, err = store.InsertRefundPolicyTier(ctx, f.db, &ev.ID, 2, decimal.NewFromInt(90))
	require.NoError(t, err)
	_, err = store.InsertRefundPolicyTier(ctx, f.db, &ev.ID, 20, decimal.NewFromInt(100))
	require.NoError(t, err)
	policy, err = f.refunds.ListRefundPolicy(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, PolicySourceEvent, policy.Source)
	require.Len(t, policy.Tiers, 2)
	assert.Equal(t, 20, policy.Tiers[0].DaysBeforeEvent)
	assert.True(t, policy.Percentage(5).Equal(decimal.NewFromInt(90)))

	_, err = f.refunds.ListRefundPolicy(ctx, 424242)
	assert.True(t, errors.Is(err, database.ErrEventNotFound), "got %v", err)
}

func TestSeatRefundsKeepPaymentOpenUntilFullyRefunded(t *testing.T) {
	f, ctx := newFixture(t)
	_, regs := f.paidSeats(t, ctx, 40*24*time.Hour, "60.00", 3)
	full := decimal.NewFromInt(100)

	refundSeat := func(reg models.Registration) *models.PaymentRecord {
		t.Helper()
		r, err := f.refunds.RequestRefund(ctx, reg.ID, f.buyer.ID, "group cancelled", "")
		require.NoError(t, err)
		_, err = f.refunds.ReviewRefund(ctx, r.ID, f.staff.ID, true, "", &full)
		require.NoError(t, err)
		done, err := f.refunds.ProcessRefund(ctx, r.ID, f.staff.ID)
		require.NoError(t, err)
		require.Equal(t, models.RefundStatusCompleted, done.Status)

		p, err := store.GetPayment(ctx, f.db, done.PaymentID)
		require.NoError(t, err)
		return p
	}

	p := refundSeat(regs[0])
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	assert.Equal(t, "60.00", p.RefundedAmount.StringFixed(2))

	p = refundSeat(regs[1])
	assert.Equal(t, models.PaymentStatusCompleted, p.Status)
	assert.Equal(t, "120.00", p.RefundedAmount.StringFixed(2))

	p = refundSeat(regs[2])
	assert.Equal(t, models.PaymentStatusRefunded, p.Status)
	assert.Equal(t, "180.00", p.RefundedAmount.StringFixed(2))

	for _, reg := range regs {
		r, err := store.GetRegistration(ctx, f.db, reg.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RegistrationStatusCancelled, r.Status)
	}
}
