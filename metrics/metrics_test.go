package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"
)

func TestRecord(t *testing.T) {
	require.NoError(t, Register())
	defer Unregister()
	ctx := context.Background()

	RecordRunStarted(ctx, "manual")
	RecordRunStarted(ctx, "manual")
	RecordRunFinished(ctx, "completed")
	RecordStepLatency(ctx, "agent", 15*time.Millisecond)

	rows, err := view.RetrieveData(RunsStartedView.Name)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(2), rows[0].Data.(*view.CountData).Value)

	rows, err = view.RetrieveData(StepLatencyView.Name)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0].Data.(*view.DistributionData).Count)
}
