package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunStatusTransitions(t *testing.T) {
	t.Parallel()

	require.True(t, RunStatusQueued.CanTransition(RunStatusRunning))
	require.True(t, RunStatusRunning.CanTransition(RunStatusSuccess))
	require.True(t, RunStatusRunning.CanTransition(RunStatusFailed))
	require.True(t, RunStatusQueued.CanTransition(RunStatusFailed))

	// Redelivery of an in-flight or failed run re-enters running.
	require.True(t, RunStatusRunning.CanTransition(RunStatusRunning))
	require.True(t, RunStatusFailed.CanTransition(RunStatusRunning))
	require.True(t, RunStatusFailed.CanTransition(RunStatusFailed))

	// Success is final, and nothing returns to queued.
	require.False(t, RunStatusSuccess.CanTransition(RunStatusRunning))
	require.False(t, RunStatusSuccess.CanTransition(RunStatusFailed))
	require.False(t, RunStatusRunning.CanTransition(RunStatusQueued))
	require.False(t, RunStatusFailed.CanTransition(RunStatusQueued))

	require.True(t, RunStatusSuccess.Terminal())
	require.True(t, RunStatusFailed.Terminal())
	require.False(t, RunStatusQueued.Terminal())
	require.False(t, RunStatusRunning.Terminal())
}

func TestSiteProfileSeeds(t *testing.T) {
	t.Parallel()

	withSeeds := SiteProfile{
		BaseURL:  "https://cars.se",
		SeedURLs: []string{"https://cars.se/lager", "https://cars.se/nya"},
	}
	require.Equal(t, withSeeds.SeedURLs, withSeeds.Seeds())

	baseOnly := SiteProfile{BaseURL: "https://cars.se"}
	require.Equal(t, []string{"https://cars.se"}, baseOnly.Seeds())

	require.Nil(t, SiteProfile{}.Seeds())
}

func TestRunEventValidate(t *testing.T) {
	t.Parallel()

	valid := RunEvent{
		CustomerID: "cust-1",
		RunID:      "run-1",
		Stage:      StageLifecycle,
		Code:       EventJobStart,
		Level:      LevelInfo,
		CreatedAt:  time.Unix(100, 0),
	}
	require.NoError(t, valid.Validate())

	missingRun := valid
	missingRun.RunID = ""
	require.Error(t, missingRun.Validate())

	missingCustomer := valid
	missingCustomer.CustomerID = ""
	require.Error(t, missingCustomer.Validate())

	missingCode := valid
	missingCode.Code = ""
	require.Error(t, missingCode.Validate())
}

type recordingDelivery struct {
	job        Job
	acked      bool
	retried    bool
	retryDelay time.Duration
	dead       string
}

func (d *recordingDelivery) Job() Job                  { return d.job }
func (d *recordingDelivery) Ack()                      { d.acked = true }
func (d *recordingDelivery) Retry(delay time.Duration) { d.retried, d.retryDelay = true, delay }
func (d *recordingDelivery) DeadLetter(reason string)  { d.dead = reason }

func TestOutcomeApply(t *testing.T) {
	t.Parallel()

	ack := &recordingDelivery{}
	Ack().Apply(ack)
	require.True(t, ack.acked)

	retry := &recordingDelivery{}
	RetryAfter(5 * time.Second).Apply(retry)
	require.True(t, retry.retried)
	require.Equal(t, 5*time.Second, retry.retryDelay)

	dead := &recordingDelivery{}
	DeadLetter("poison").Apply(dead)
	require.Equal(t, "poison", dead.dead)
}
