package tablestore

import (
	"context"

	"github.com/archeonlabs/cloudcore/internal/common"
)

// Unavailable returns a Store whose every operation fails with
// common.ErrUnavailable. It stands in for the remote store when no
// connection is configured, so services exercise their offline fallbacks
// instead of checking a readiness flag.
func Unavailable() Store { return unavailableStore{} }

type unavailableStore struct{}

func (unavailableStore) Insert(context.Context, string, Row) error { return common.ErrUnavailable }

func (unavailableStore) Upsert(context.Context, string, Row, ...string) error {
	return common.ErrUnavailable
}

func (unavailableStore) Select(context.Context, string, Filter) ([]Row, error) {
	return nil, common.ErrUnavailable
}

func (unavailableStore) Update(context.Context, string, Filter, Row) error {
	return common.ErrUnavailable
}

func (unavailableStore) Delete(context.Context, string, Filter) error {
	return common.ErrUnavailable
}
