package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mixmall/api/internal/domain"
	pfirestore "github.com/mixmall/api/internal/platform/firestore"
	"github.com/mixmall/api/internal/repositories"
)

const expressCollection = "expressCompanies"

// ExpressRepository stores carrier metadata for logistics lookups.
type ExpressRepository struct {
	base     *pfirestore.BaseRepository[expressDocument]
	provider *pfirestore.Provider
}

// NewExpressRepository constructs a Firestore-backed carrier repository.
func NewExpressRepository(provider *pfirestore.Provider) (*ExpressRepository, error) {
	if provider == nil {
		return nil, errors.New("express repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[expressDocument](provider, expressCollection, nil, nil)
	return &ExpressRepository{base: base, provider: provider}, nil
}

// List returns all known carriers sorted by name.
func (r *ExpressRepository) List(ctx context.Context) ([]domain.ExpressCompany, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("express repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query
	})
	if err != nil {
		return nil, err
	}

	companies := make([]domain.ExpressCompany, 0, len(docs))
	for _, doc := range docs {
		company := doc.Data.toDomain()
		company.ID = doc.ID
		companies = append(companies, company)
	}
	sort.Slice(companies, func(i, j int) bool { return companies[i].Name < companies[j].Name })
	return companies, nil
}

// FindByCode resolves a carrier by its tracking-provider code.
func (r *ExpressRepository) FindByCode(ctx context.Context, code string) (domain.ExpressCompany, error) {
	if r == nil || r.provider == nil {
		return domain.ExpressCompany{}, errors.New("express repository not initialised")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.ExpressCompany{}, errors.New("carrier code is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.ExpressCompany{}, pfirestore.WrapError("firestore: find carrier", err)
	}

	iter := queryDocs(ctx, client.Collection(expressCollection).Query.Where("code", "==", code).Limit(1))
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.ExpressCompany{}, pfirestore.WrapError("firestore: find carrier",
			status.Error(codes.NotFound, "carrier not found"))
	}
	if err != nil {
		return domain.ExpressCompany{}, pfirestore.WrapError("firestore: find carrier", err)
	}

	var doc expressDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.ExpressCompany{}, pfirestore.WrapError("firestore: find carrier", err)
	}
	company := doc.toDomain()
	company.ID = snap.Ref.ID
	return company, nil
}

type expressDocument struct {
	Code  string `firestore:"code"`
	Name  string `firestore:"name"`
	Logo  string `firestore:"logo,omitempty"`
	Phone string `firestore:"phone,omitempty"`
}

func (d expressDocument) toDomain() domain.ExpressCompany {
	return domain.ExpressCompany{
		Code:  strings.TrimSpace(d.Code),
		Name:  strings.TrimSpace(d.Name),
		Logo:  strings.TrimSpace(d.Logo),
		Phone: strings.TrimSpace(d.Phone),
	}
}

var _ repositories.ExpressRepository = (*ExpressRepository)(nil)
