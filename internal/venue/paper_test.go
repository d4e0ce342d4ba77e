package venue

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaperExecutionVenue_Lifecycle(t *testing.T) {
	v := NewPaperExecutionVenue(5, zerolog.Nop())
	ctx := context.Background()

	handle, err := v.AddLiquidity(ctx, "pool1", BinRange{LowerBin: -5, UpperBin: 5}, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, handle)

	fees, err := v.ClaimFees(ctx, handle)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fees, 1e-9)

	withdrawn, err := v.RemoveLiquidity(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, withdrawn)

	require.NoError(t, v.ClosePosition(ctx, handle))

	_, err = v.ClaimFees(ctx, handle)
	assert.Error(t, err)
}

func TestPaperExecutionVenue_UnknownHandle(t *testing.T) {
	v := NewPaperExecutionVenue(5, zerolog.Nop())
	ctx := context.Background()

	_, err := v.RemoveLiquidity(ctx, "missing")
	assert.Error(t, err)

	err = v.ClosePosition(ctx, "missing")
	assert.Error(t, err)
}
