package application

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcam-capture/internal/domain"
)

func TestChangeModeRequiresSession(t *testing.T) {
	rig := newTestRig(t, Options{})
	err := rig.service.ChangeMode(context.Background(), domain.ModeVideo, "")
	assert.ErrorIs(t, err, domain.ErrSessionNotConfigured)
}

func TestChangeModeToVideo(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.configure(t, domain.SessionConfig{Position: domain.PositionBack, Mode: domain.ModePhoto})

	require.NoError(t, rig.service.ChangeMode(context.Background(), domain.ModeVideo, ""))

	snap := rig.service.Snapshot()
	assert.Equal(t, domain.ModeVideo, snap.Mode())
	assert.Equal(t, domain.PresetHigh, snap.Preset)
	require.NotNil(t, snap.Microphone)
	assert.False(t, rig.hw.session.hasOutput(domain.OutputPhoto))
	assert.True(t, rig.hw.session.hasOutput(domain.OutputAudioData))
	assert.True(t, rig.hw.session.hasOutput(domain.OutputVideoData))

	ids := rig.hw.session.inputIDs()
	sort.Strings(ids)
	assert.Equal(t, []string{"back-cam", "mic"}, ids)

	ev := rig.events.waitFor(t, EventModeChanged, 1)
	assert.Equal(t, domain.ModeVideo, ev[0].Mode)

	// тот же режим ничего не меняет
	require.NoError(t, rig.service.ChangeMode(context.Background(), domain.ModeVideo, ""))
	assert.Len(t, rig.events.of(EventModeChanged), 1)
}

func TestChangeModeWithPresetOverride(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.configure(t, domain.SessionConfig{Position: domain.PositionBack})

	require.NoError(t, rig.service.ChangeMode(context.Background(), domain.ModeVideo, domain.Preset1280x720))
	assert.Equal(t, domain.Preset1280x720, rig.service.Snapshot().Preset)
}

func TestChangeModeRejectedDuringRecording(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.startVideo(t)

	_, err := rig.service.StartRecord("")
	require.NoError(t, err)

	err = rig.service.ChangeMode(context.Background(), domain.ModePhoto, "")
	assert.ErrorIs(t, err, domain.ErrModeChangeDuringRecording)
	assert.Equal(t, domain.RecordRecording, rig.service.RecordState())
	assert.Equal(t, domain.ModeVideo, rig.service.Mode())

	err = rig.service.ChangePosition(context.Background(), domain.PositionFront)
	assert.ErrorIs(t, err, domain.ErrReconfigureDuringRecording)
	assert.Equal(t, "back-cam", rig.service.Snapshot().Device.ID)
}
