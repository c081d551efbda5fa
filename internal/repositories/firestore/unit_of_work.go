package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	pfirestore "github.com/mixmall/api/internal/platform/firestore"
)

type txContextKey struct{}

// UnitOfWork groups repository mutations into a single Firestore transaction.
// The live transaction travels on the context so repositories in this package
// participate transparently; nested RunInTx calls join the outer transaction.
type UnitOfWork struct {
	provider *pfirestore.Provider
	opts     []pfirestore.TxOption
}

// NewUnitOfWork constructs a UnitOfWork bound to the shared provider.
func NewUnitOfWork(provider *pfirestore.Provider, opts ...pfirestore.TxOption) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("unit of work requires firestore provider")
	}
	return &UnitOfWork{provider: provider, opts: opts}, nil
}

// RunInTx executes fn inside a Firestore transaction. Firestore requires all
// reads to happen before the first write; callers sequence their repository
// calls accordingly.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return errors.New("unit of work not initialised")
	}
	if fn == nil {
		return errors.New("unit of work: fn is required")
	}
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}
	return u.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(withTx(ctx, tx))
	}, u.opts...)
}

func withTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

func txFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// getDoc reads a document through the active transaction when present.
func getDoc(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := txFromContext(ctx); ok {
		return tx.Get(ref)
	}
	return ref.Get(ctx)
}

// setDoc writes a document through the active transaction when present.
func setDoc(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := txFromContext(ctx); ok {
		return tx.Set(ref, data)
	}
	_, err := ref.Set(ctx, data)
	return err
}

// createDoc inserts a document, failing when it already exists.
func createDoc(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := txFromContext(ctx); ok {
		return tx.Create(ref, data)
	}
	_, err := ref.Create(ctx, data)
	return err
}

// updateDoc applies partial updates through the active transaction when present.
func updateDoc(ctx context.Context, ref *firestore.DocumentRef, updates []firestore.Update) error {
	if tx, ok := txFromContext(ctx); ok {
		return tx.Update(ref, updates)
	}
	_, err := ref.Update(ctx, updates)
	return err
}

// queryDocs runs the query through the active transaction when present.
func queryDocs(ctx context.Context, query firestore.Query) *firestore.DocumentIterator {
	if tx, ok := txFromContext(ctx); ok {
		return tx.Documents(query)
	}
	return query.Documents(ctx)
}
