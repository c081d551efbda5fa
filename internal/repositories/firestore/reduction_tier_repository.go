package firestore

import (
	"context"
	"errors"
	"sort"

	"cloud.google.com/go/firestore"
	domain "github.com/mixmall/api/internal/domain"
	pfirestore "github.com/mixmall/api/internal/platform/firestore"
	"github.com/mixmall/api/internal/repositories"
)

const reductionTierCollection = "reductionTiers"

// ReductionTierRepository reads the storewide full-reduction ladder.
type ReductionTierRepository struct {
	base *pfirestore.BaseRepository[reductionTierDocument]
}

// NewReductionTierRepository constructs a Firestore-backed tier repository.
func NewReductionTierRepository(provider *pfirestore.Provider) (*ReductionTierRepository, error) {
	if provider == nil {
		return nil, errors.New("reduction tier repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[reductionTierDocument](provider, reductionTierCollection, nil, nil)
	return &ReductionTierRepository{base: base}, nil
}

// List returns all tiers sorted by ascending threshold.
func (r *ReductionTierRepository) List(ctx context.Context) ([]domain.ReductionTier, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("reduction tier repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query
	})
	if err != nil {
		return nil, err
	}

	tiers := make([]domain.ReductionTier, 0, len(docs))
	for _, doc := range docs {
		tiers = append(tiers, domain.ReductionTier{
			Threshold: doc.Data.Threshold,
			Discount:  doc.Data.Discount,
		})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Threshold < tiers[j].Threshold })
	return tiers, nil
}

type reductionTierDocument struct {
	Threshold int64 `firestore:"threshold"`
	Discount  int64 `firestore:"discount"`
}

var _ repositories.ReductionTierRepository = (*ReductionTierRepository)(nil)
