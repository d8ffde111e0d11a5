package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawsec-labs/clawsec/pkg/config"
)

func TestDisabledProviderIsNoOp(t *testing.T) {
	p, err := New(context.Background(), config.ObservabilityConfig{Enabled: false}, nil)
	require.NoError(t, err)
	require.NotNil(t, p)

	// None of these may panic on a disabled provider.
	p.RecordAnalysis(context.Background(), "block", false, 5*time.Millisecond)
	p.RecordError(context.Background(), errors.New("boom"))
	p.PendingDelta(context.Background(), 1)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestDisabledProviderStartSpan(t *testing.T) {
	p, err := New(context.Background(), config.ObservabilityConfig{Enabled: false}, nil)
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "analyze")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}
