package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityDetail(t *testing.T) {
	insufficient := &CapacityError{TicketTypeID: 3, TicketTypeName: "VIP", Reason: ReasonInsufficientInventory, Remaining: 2}
	assert.Equal(t, "insufficient-inventory-remaining:2", insufficient.Detail())
	assert.Contains(t, insufficient.Error(), "VIP")

	notOnSale := &CapacityError{TicketTypeID: 3, Reason: ReasonNotOnSale, Remaining: 9}
	assert.Equal(t, "not-on-sale", notOnSale.Detail())
}

func TestIsCapacityThroughWrapping(t *testing.T) {
	err := fmt.Errorf("failed to create holds: %w", &CapacityError{TicketTypeID: 1, Reason: ReasonPerOrderCapExceeded})

	ce, ok := IsCapacity(err)
	require.True(t, ok)
	assert.Equal(t, int64(1), ce.TicketTypeID)

	_, ok = IsCapacity(ErrTicketNotFound)
	assert.False(t, ok)
}

func TestIsAuthenticity(t *testing.T) {
	assert.True(t, IsAuthenticity(fmt.Errorf("webhook: %w", &AuthenticityError{Reason: "bad signature"})))
	assert.False(t, IsAuthenticity(ErrProviderFailure))
}

func TestDispatchFailureUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := &DispatchFailure{Email: "a@example.com", Tokens: []string{"t1", "t2"}, Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "t1,t2")
}
