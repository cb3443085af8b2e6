package watchdog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segfaultgame/engine/internal/shardstate"
)

func TestUpdate_ArmsAfterSixQuietTicksAndFiresOnCountdownZero(t *testing.T) {
	w := &shardstate.Watchdog{}
	quiet := Inputs{}

	for i := 0; i < 6; i++ {
		Update(w, quiet)
	}
	assert.True(t, w.Active)
	assert.Equal(t, 3, w.Countdown)
	assert.Equal(t, 0, w.PendingBonus)

	Update(w, quiet) // countdown 2
	assert.Equal(t, 2, w.Countdown)
	Update(w, quiet) // countdown 1
	assert.Equal(t, 1, w.Countdown)
	Update(w, quiet) // countdown 0 -> fires
	assert.Equal(t, 1, w.PendingBonus)
	assert.False(t, w.Active)
	assert.Equal(t, 0, w.QuietTicks)
}

func TestUpdate_NonQuietDuringCountdownResetsEverything(t *testing.T) {
	w := &shardstate.Watchdog{}
	for i := 0; i < 6; i++ {
		Update(w, Inputs{})
	}
	require.True(t, w.Active)

	Update(w, Inputs{Killed: true})

	assert.False(t, w.Active)
	assert.Equal(t, 0, w.Countdown)
	assert.Equal(t, 0, w.QuietTicks)
	assert.Equal(t, 0, w.PendingBonus)
}

func TestUpdate_NonQuietBeforeArmingResetsStreak(t *testing.T) {
	w := &shardstate.Watchdog{}
	for i := 0; i < 4; i++ {
		Update(w, Inputs{})
	}
	assert.Equal(t, 4, w.QuietTicks)

	Update(w, Inputs{BroadcastOccurred: true})
	assert.Equal(t, 0, w.QuietTicks)
	assert.False(t, w.Active)
}

func TestQuiet_AnyConditionMakesTickNonQuiet(t *testing.T) {
	assert.True(t, Inputs{}.Quiet())
	assert.False(t, Inputs{Killed: true}.Quiet())
	assert.False(t, Inputs{BroadcastOccurred: true}.Quiet())
	assert.False(t, Inputs{NewLOSLockAcquired: true}.Quiet())
	assert.False(t, Inputs{ProcessStartedAdjacentToDefragger: true}.Quiet())
}
