package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/safar/go-ticket-store/internal/database"
	"github.com/safar/go-ticket-store/internal/models"
)

const couponColumns = `id, code, discount_type, discount_value, max_total_uses, max_uses_per_person, current_uses,
	valid_from, valid_until, is_active, ticket_type_ids, requires_credential, created_at, updated_at`

// ErrCouponExhausted is returned when the usage cap was reached between validation and redemption.
var ErrCouponExhausted = database.Conflict("COUPON_EXHAUSTED", "coupon has no uses left")

func scanCoupon(row rowScanner) (*models.Coupon, error) {
	c := &models.Coupon{}
	var maxTotal sql.NullInt64
	var validFrom, validUntil sql.NullTime
	var ticketTypeIDs pq.Int64Array
	err := row.Scan(
		&c.ID,
		&c.Code,
		&c.DiscountType,
		&c.DiscountValue,
		&maxTotal,
		&c.MaxUsesPerPerson,
		&c.CurrentUses,
		&validFrom,
		&validUntil,
		&c.IsActive,
		&ticketTypeIDs,
		&c.RequiresCredential,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if maxTotal.Valid {
		v := int(maxTotal.Int64)
		c.MaxTotalUses = &v
	}
	c.ValidFrom = timePtr(validFrom)
	c.ValidUntil = timePtr(validUntil)
	c.TicketTypeIDs = []int64(ticketTypeIDs)
	return c, err
}

func CreateCoupon(ctx context.Context, q database.Querier, c *models.Coupon) error {
	var maxTotal sql.NullInt64
	if c.MaxTotalUses != nil {
		maxTotal = sql.NullInt64{Int64: int64(*c.MaxTotalUses), Valid: true}
	}
	if c.MaxUsesPerPerson <= 0 {
		c.MaxUsesPerPerson = 1
	}
	ticketTypeIDs := c.TicketTypeIDs
	if ticketTypeIDs == nil {
		ticketTypeIDs = []int64{}
	}

	query := `
		INSERT INTO coupons (code, discount_type, discount_value, max_total_uses, max_uses_per_person,
			valid_from, valid_until, is_active, ticket_type_ids, requires_credential, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, NOW(), NOW())
		RETURNING ` + couponColumns

	created, err := scanCoupon(q.QueryRowContext(ctx, query,
		strings.ToUpper(strings.TrimSpace(c.Code)),
		c.DiscountType,
		c.DiscountValue,
		maxTotal,
		c.MaxUsesPerPerson,
		nullTime(c.ValidFrom),
		nullTime(c.ValidUntil),
		pq.Array(ticketTypeIDs),
		c.RequiresCredential,
	))
	if err != nil {
		return fmt.Errorf("create coupon: %w", err)
	}

	*c = *created
	return nil
}

func GetCoupon(ctx context.Context, q database.Querier, id int64) (*models.Coupon, error) {
	c, err := scanCoupon(q.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

// GetCouponByCodeForUpdate locks the coupon so its usage counter cannot move until the transaction ends.
func GetCouponByCodeForUpdate(ctx context.Context, q database.Querier, code string) (*models.Coupon, error) {
	c, err := scanCoupon(q.QueryRowContext(ctx,
		`SELECT `+couponColumns+` FROM coupons WHERE UPPER(code) = UPPER($1) FOR UPDATE`, strings.TrimSpace(code)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("lock coupon: %w", err)
	}
	return c, nil
}

// CountCouponUsagesByPerson counts redemptions whose registration still counts against the person.
func CountCouponUsagesByPerson(ctx context.Context, q database.Querier, couponID, personID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM coupon_usages cu
		JOIN registrations r ON r.id = cu.registration_id
		WHERE cu.coupon_id = $1 AND cu.person_id = $2 AND r.status = ANY($3)`,
		couponID, personID, pq.Array(models.ActiveRegistrationStatuses)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count coupon usages: %w", err)
	}
	return n, nil
}

// RedeemCoupon increments the usage counter, refusing to pass max_total_uses.
func RedeemCoupon(ctx context.Context, q database.Querier, couponID int64) error {
	result, err := q.ExecContext(ctx, `
		UPDATE coupons
		SET current_uses = current_uses + 1, updated_at = NOW()
		WHERE id = $1 AND (max_total_uses IS NULL OR current_uses < max_total_uses)`, couponID)
	if err != nil {
		return fmt.Errorf("redeem coupon: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCouponExhausted
	}
	return nil
}

func InsertCouponUsage(ctx context.Context, q database.Querier, u *models.CouponUsage) error {
	err := q.QueryRowContext(ctx, `
		INSERT INTO coupon_usages (coupon_id, registration_id, person_id, original_price, discount_amount,
			final_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at`,
		u.CouponID, u.RegistrationID, u.PersonID, u.OriginalPrice, u.DiscountAmount, u.FinalPrice,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("record coupon usage: %w", err)
	}
	return nil
}

func ListCouponUsages(ctx context.Context, q database.Querier, couponID int64) ([]models.CouponUsage, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, coupon_id, registration_id, person_id, original_price, discount_amount, final_price, created_at
		FROM coupon_usages WHERE coupon_id = $1 ORDER BY id`, couponID)
	if err != nil {
		return nil, fmt.Errorf("list coupon usages: %w", err)
	}
	defer rows.Close()

	var usages []models.CouponUsage
	for rows.Next() {
		var u models.CouponUsage
		if err := rows.Scan(&u.ID, &u.CouponID, &u.RegistrationID, &u.PersonID, &u.OriginalPrice,
			&u.DiscountAmount, &u.FinalPrice, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan coupon usage: %w", err)
		}
		usages = append(usages, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return usages, nil
}

// DeactivateExpiredCoupons switches off active coupons whose validity window closed before now.
func DeactivateExpiredCoupons(ctx context.Context, q database.Querier, now time.Time) (int64, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE coupons SET is_active = FALSE, updated_at = $1::timestamptz
		WHERE is_active AND valid_until IS NOT NULL AND valid_until < $1::timestamptz`, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired coupons: %w", err)
	}
	return result.RowsAffected()
}
