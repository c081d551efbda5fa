package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mixmall/api/internal/domain"
	pfirestore "github.com/mixmall/api/internal/platform/firestore"
	"github.com/mixmall/api/internal/repositories"
)

const userCouponCollection = "userCoupons"

// CouponRepository stores per-buyer coupon instances.
type CouponRepository struct {
	base     *pfirestore.BaseRepository[userCouponDocument]
	provider *pfirestore.Provider
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userCouponDocument](provider, userCouponCollection, nil, nil)
	return &CouponRepository{base: base, provider: provider}, nil
}

// FindForUser loads the coupon instance and verifies it belongs to the user.
// Coupons held by someone else surface as not found.
func (r *CouponRepository) FindForUser(ctx context.Context, userID string, couponID string) (domain.UserCoupon, error) {
	if r == nil || r.base == nil {
		return domain.UserCoupon{}, errors.New("coupon repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	couponID = strings.TrimSpace(couponID)
	if userID == "" {
		return domain.UserCoupon{}, errors.New("user id is required")
	}
	if couponID == "" {
		return domain.UserCoupon{}, errors.New("coupon id is required")
	}

	ref, err := r.base.DocumentRef(ctx, couponID)
	if err != nil {
		return domain.UserCoupon{}, pfirestore.WrapError("firestore: get coupon", err)
	}
	snap, err := getDoc(ctx, ref)
	if err != nil {
		return domain.UserCoupon{}, pfirestore.WrapError("firestore: get coupon", err)
	}
	var doc userCouponDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.UserCoupon{}, pfirestore.WrapError("firestore: get coupon", err)
	}
	if doc.UserID != userID {
		return domain.UserCoupon{}, pfirestore.WrapError("firestore: get coupon",
			status.Error(codes.NotFound, "coupon not found for user"))
	}
	coupon := doc.toDomain()
	coupon.ID = couponID
	return coupon, nil
}

// SetUsed flips the used flag. Marking used is conditional on the coupon
// still being unused; losing that race surfaces as a conflict.
func (r *CouponRepository) SetUsed(ctx context.Context, couponID string, used bool) error {
	if r == nil || r.provider == nil {
		return errors.New("coupon repository not initialised")
	}
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return errors.New("coupon id is required")
	}

	ref, err := r.base.DocumentRef(ctx, couponID)
	if err != nil {
		return pfirestore.WrapError("firestore: set coupon used", err)
	}

	write := func(ctx context.Context) error {
		updates := []firestore.Update{
			{Path: "used", Value: used},
			{Path: "updatedAt", Value: time.Now().UTC()},
		}
		return updateDoc(ctx, ref, updates)
	}

	// Inside a unit-of-work transaction the service has already read the
	// coupon; serialisability turns a concurrent use into a retry or abort.
	if _, inTx := txFromContext(ctx); inTx {
		return pfirestore.WrapError("firestore: set coupon used", write(ctx))
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc userCouponDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if used && doc.Used {
			return status.Error(codes.FailedPrecondition, "coupon already used")
		}
		return write(withTx(ctx, tx))
	})
	return pfirestore.WrapError("firestore: set coupon used", err)
}

type userCouponDocument struct {
	UserID    string    `firestore:"userId"`
	Title     string    `firestore:"title"`
	Threshold int64     `firestore:"threshold"`
	Amount    int64     `firestore:"amount"`
	Used      bool      `firestore:"used"`
	ExpiresAt time.Time `firestore:"expiresAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d userCouponDocument) toDomain() domain.UserCoupon {
	return domain.UserCoupon{
		UserID:    strings.TrimSpace(d.UserID),
		Title:     strings.TrimSpace(d.Title),
		Threshold: d.Threshold,
		Amount:    d.Amount,
		Used:      d.Used,
		ExpiresAt: d.ExpiresAt,
	}
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)
