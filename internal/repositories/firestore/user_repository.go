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

const userCollection = "users"

// UserRepository persists the account fields payment and commission touch.
// Balance debits inside a unit-of-work transaction are written blind; the
// service layer reads the balance first and Firestore serialisability keeps
// the guard honest. Standalone debits run their own guarded transaction.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	provider *pfirestore.Provider
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base, provider: provider}, nil
}

// FindByID loads the account by user id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, errors.New("user id is required")
	}

	if _, inTx := txFromContext(ctx); inTx {
		ref, err := r.base.DocumentRef(ctx, userID)
		if err != nil {
			return domain.User{}, pfirestore.WrapError("firestore: get user", err)
		}
		snap, err := getDoc(ctx, ref)
		if err != nil {
			return domain.User{}, pfirestore.WrapError("firestore: get user", err)
		}
		var doc userDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.User{}, pfirestore.WrapError("firestore: get user", err)
		}
		user := doc.toDomain()
		user.ID = userID
		return user, nil
	}

	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	user := doc.Data.toDomain()
	user.ID = doc.ID
	return user, nil
}

// AdjustBalance applies the delta to the user's balance. Negative deltas may
// not take the balance below zero.
func (r *UserRepository) AdjustBalance(ctx context.Context, userID string, delta int64) error {
	if r == nil || r.provider == nil {
		return errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}
	if delta == 0 {
		return nil
	}

	ref, err := r.base.DocumentRef(ctx, userID)
	if err != nil {
		return pfirestore.WrapError("firestore: adjust balance", err)
	}

	if _, inTx := txFromContext(ctx); inTx {
		return pfirestore.WrapError("firestore: adjust balance", r.incrementField(ctx, ref, "balance", delta))
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if delta < 0 {
			snap, err := tx.Get(ref)
			if err != nil {
				return err
			}
			var doc userDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Balance+delta < 0 {
				return status.Error(codes.FailedPrecondition, "balance cannot go negative")
			}
		}
		return r.incrementField(withTx(ctx, tx), ref, "balance", delta)
	})
	return pfirestore.WrapError("firestore: adjust balance", err)
}

// IncrementConsumption bumps the lifetime consumption stat.
func (r *UserRepository) IncrementConsumption(ctx context.Context, userID string, amount int64) error {
	return r.increment(ctx, userID, "consumptionTotal", amount, "firestore: increment consumption")
}

// IncrementSalesTotal bumps the lifetime referral sales stat.
func (r *UserRepository) IncrementSalesTotal(ctx context.Context, userID string, amount int64) error {
	return r.increment(ctx, userID, "salesTotal", amount, "firestore: increment sales total")
}

func (r *UserRepository) increment(ctx context.Context, userID, field string, amount int64, op string) error {
	if r == nil || r.provider == nil {
		return errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("user id is required")
	}
	if amount == 0 {
		return nil
	}

	ref, err := r.base.DocumentRef(ctx, userID)
	if err != nil {
		return pfirestore.WrapError(op, err)
	}
	return pfirestore.WrapError(op, r.incrementField(ctx, ref, field, amount))
}

func (r *UserRepository) incrementField(ctx context.Context, ref *firestore.DocumentRef, field string, delta int64) error {
	updates := []firestore.Update{
		{Path: field, Value: firestore.Increment(delta)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	}
	return updateDoc(ctx, ref, updates)
}

type userDocument struct {
	Username         string    `firestore:"username"`
	Balance          int64     `firestore:"balance"`
	PayPasswordHash  string    `firestore:"payPasswordHash,omitempty"`
	InviterID        string    `firestore:"inviterId,omitempty"`
	ConsumptionTotal int64     `firestore:"consumptionTotal"`
	SalesTotal       int64     `firestore:"salesTotal"`
	CreatedAt        time.Time `firestore:"createdAt"`
	UpdatedAt        time.Time `firestore:"updatedAt"`
}

func (d userDocument) toDomain() domain.User {
	return domain.User{
		Username:         strings.TrimSpace(d.Username),
		Balance:          d.Balance,
		PayPasswordHash:  d.PayPasswordHash,
		InviterID:        strings.TrimSpace(d.InviterID),
		ConsumptionTotal: d.ConsumptionTotal,
		SalesTotal:       d.SalesTotal,
	}
}

var _ repositories.UserRepository = (*UserRepository)(nil)
