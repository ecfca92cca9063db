package entitlement

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestReadTxOptions(t *testing.T) {
	assert.Equal(t, pgx.RepeatableRead, readTxOptions.IsoLevel)
	assert.Equal(t, pgx.ReadOnly, readTxOptions.AccessMode)
}

func TestReadError(t *testing.T) {
	assert.NoError(t, readError(nil))
	assert.Same(t, ErrNotFound, readError(ErrNotFound))

	wrapped := fmt.Errorf("%w: boom", ErrStoreUnavailable)
	assert.Same(t, wrapped, readError(wrapped))

	err := readError(errors.New("begin: connection refused"))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "connection refused")

	assert.ErrorIs(t, readError(context.Canceled), context.Canceled)
	assert.NotErrorIs(t, readError(context.Canceled), ErrStoreUnavailable)
}
