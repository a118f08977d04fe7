package lease

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/Sad0asc0Sh/user-sub000/internal/platform/firestore"
)

const defaultCollection = "leases"

type leaseDocument struct {
	Holder    string    `firestore:"holder"`
	ExpiresAt time.Time `firestore:"expiresAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// FirestoreLocker implements Locker with a lease document claimed inside a transaction.
type FirestoreLocker struct {
	provider   *pfirestore.Provider
	collection string
	now        func() time.Time
}

// NewFirestoreLocker constructs a FirestoreLocker storing leases in the leases collection.
func NewFirestoreLocker(provider *pfirestore.Provider) *FirestoreLocker {
	return &FirestoreLocker{provider: provider, collection: defaultCollection, now: time.Now}
}

func (f *FirestoreLocker) ref(ctx context.Context, name string) (*firestore.DocumentRef, error) {
	client, err := f.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(f.collection).Doc(name), nil
}

// Acquire implements Locker.
func (f *FirestoreLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	now := f.now().UTC()
	l, err := newLease(name, ttl, now)
	if err != nil {
		return Lease{}, false, err
	}
	ref, err := f.ref(ctx, l.Name)
	if err != nil {
		return Lease{}, false, err
	}
	acquired := false
	err = f.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		acquired = false
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var doc leaseDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if now.Before(doc.ExpiresAt) {
				return nil
			}
		}
		acquired = true
		return tx.Set(ref, leaseDocument{Holder: l.Token, ExpiresAt: l.ExpiresAt, UpdatedAt: now})
	})
	if err != nil {
		return Lease{}, false, fmt.Errorf("lease: firestore acquire %s: %w", l.Name, err)
	}
	if !acquired {
		return Lease{}, false, nil
	}
	return l, true, nil
}

// Release implements Locker.
func (f *FirestoreLocker) Release(ctx context.Context, l Lease) error {
	ref, err := f.ref(ctx, l.Name)
	if err != nil {
		return err
	}
	err = f.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var doc leaseDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.Holder != l.Token {
			return nil
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return fmt.Errorf("lease: firestore release %s: %w", l.Name, err)
	}
	return nil
}
