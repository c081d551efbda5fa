package firestore

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/mixmall/api/internal/domain"
	pfirestore "github.com/mixmall/api/internal/platform/firestore"
	"github.com/mixmall/api/internal/repositories"
)

const returnAddressCollection = "returnAddresses"

// ReturnAddressRepository reads the configured merchant return address.
type ReturnAddressRepository struct {
	provider *pfirestore.Provider
}

// NewReturnAddressRepository constructs a Firestore-backed return address repository.
func NewReturnAddressRepository(provider *pfirestore.Provider) (*ReturnAddressRepository, error) {
	if provider == nil {
		return nil, errors.New("return address repository requires firestore provider")
	}
	return &ReturnAddressRepository{provider: provider}, nil
}

// FindActive returns the active return address. A not-found error means no
// address is configured and returns cannot be approved.
func (r *ReturnAddressRepository) FindActive(ctx context.Context) (domain.ReturnAddress, error) {
	if r == nil || r.provider == nil {
		return domain.ReturnAddress{}, errors.New("return address repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.ReturnAddress{}, pfirestore.WrapError("firestore: find return address", err)
	}

	query := client.Collection(returnAddressCollection).Query.Where("active", "==", true).Limit(1)
	iter := queryDocs(ctx, query)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.ReturnAddress{}, pfirestore.WrapError("firestore: find return address",
			status.Error(codes.NotFound, "no active return address configured"))
	}
	if err != nil {
		return domain.ReturnAddress{}, pfirestore.WrapError("firestore: find return address", err)
	}

	var doc returnAddressRecord
	if err := snap.DataTo(&doc); err != nil {
		return domain.ReturnAddress{}, pfirestore.WrapError("firestore: find return address", err)
	}
	return domain.ReturnAddress{
		ID:      snap.Ref.ID,
		Name:    strings.TrimSpace(doc.Name),
		Mobile:  strings.TrimSpace(doc.Mobile),
		Address: strings.TrimSpace(doc.Address),
		Active:  doc.Active,
	}, nil
}

type returnAddressRecord struct {
	Name    string `firestore:"name"`
	Mobile  string `firestore:"mobile"`
	Address string `firestore:"address"`
	Active  bool   `firestore:"active"`
}

var _ repositories.ReturnAddressRepository = (*ReturnAddressRepository)(nil)
