package application

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcam-capture/internal/domain"
)

func TestStartRecordRequiresVideoMode(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.configure(t, domain.SessionConfig{Position: domain.PositionBack, Mode: domain.ModePhoto})
	require.NoError(t, rig.service.Start())

	_, err := rig.service.StartRecord("")
	assert.ErrorIs(t, err, domain.ErrNotInVideoMode)
}

func TestStartRecordRequiresRunningSession(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.configure(t, domain.SessionConfig{Position: domain.PositionBack, Mode: domain.ModeVideo})

	_, err := rig.service.StartRecord("")
	var rerr *domain.RecordingError
	assert.ErrorAs(t, err, &rerr)
	assert.Equal(t, domain.RecordIdle, rig.service.RecordState())
}

func TestRecordThroughSession(t *testing.T) {
	dir := t.TempDir()
	rig := newTestRig(t, Options{OutputDir: dir})
	rig.startVideo(t)

	id, err := rig.service.StartRecord("")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Equal(t, dir, filepath.Dir(rig.writers.dest))
	require.Len(t, rig.writers.tracks, 2)
	assert.Equal(t, "h264", rig.writers.tracks[0].Codec)
	assert.Equal(t, uint32(90000), rig.writers.tracks[0].ClockRate)
	assert.Equal(t, "opus", rig.writers.tracks[1].Codec)

	for i := 0; i < 5; i++ {
		ts := time.Duration(i) * 33 * time.Millisecond
		rig.hw.session.deliver(videoBuf(ts, "back-cam"))
		rig.hw.session.deliver(audioBuf(ts + time.Millisecond))
	}

	require.NoError(t, rig.service.StopRecord())
	require.NoError(t, rig.service.StopRecord())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := rig.service.WaitRecord(ctx)
	require.NoError(t, err)
	require.True(t, res.Success, "запись: %v", res.Err)
	assert.Equal(t, id, res.SessionID)
	assert.Equal(t, 5, res.VideoSamples)
	assert.Equal(t, 5, res.AudioSamples)

	ev := rig.events.waitFor(t, EventRecordResult, 1)
	assert.Equal(t, id, ev[0].Record.SessionID)
}

func TestRecordPauseResumeThroughSession(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.startVideo(t)
	const frame = 33 * time.Millisecond

	_, err := rig.service.StartRecord("clip")
	require.NoError(t, err)

	for i := 0; i < 15; i++ {
		ts := time.Duration(i) * frame
		rig.hw.session.deliver(videoBuf(ts, "back-cam"))
		rig.hw.session.deliver(audioBuf(ts))
	}

	pausedAt := 15 * frame
	rig.hw.clock.Set(pausedAt)
	require.NoError(t, rig.service.PauseRecord())
	rig.hw.session.deliver(videoBuf(pausedAt+time.Second, "back-cam"))
	rig.hw.session.deliver(audioBuf(pausedAt + time.Second))

	rig.hw.clock.Set(pausedAt + 2*time.Second)
	require.NoError(t, rig.service.ResumeRecord())

	for i := 15; i < 30; i++ {
		ts := 2*time.Second + time.Duration(i)*frame
		rig.hw.session.deliver(videoBuf(ts, "back-cam"))
		rig.hw.session.deliver(audioBuf(ts))
	}

	require.NoError(t, rig.service.StopRecord())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := rig.service.WaitRecord(ctx)
	require.NoError(t, err)

	require.True(t, res.Success, "запись: %v", res.Err)
	assert.Equal(t, 30, res.VideoSamples)
	assert.Equal(t, 30, res.AudioSamples)
	assert.Equal(t, 0, res.Dropped)
	assert.Equal(t, 30*frame, res.VideoDuration)
	assert.Equal(t, 29*frame+20*time.Millisecond, res.AudioDuration)

	// пауза не оставляет разрыва ни на одной дорожке
	w := rig.writers.current()
	for _, kind := range []domain.BufferKind{domain.BufferVideo, domain.BufferAudio} {
		ts := w.timestamps(kind)
		require.Len(t, ts, 30, "дорожка %s", kind)
		for i, got := range ts {
			assert.Equal(t, time.Duration(i)*frame, got, "дорожка %s, буфер %d", kind, i)
		}
	}

	assert.Equal(t, domain.RecordFinished, rig.service.RecordState())
	assert.Len(t, rig.events.waitFor(t, EventRecordResult, 1), 1)
}

func TestStopSessionFinalizesRecording(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.startVideo(t)

	_, err := rig.service.StartRecord("clip")
	require.NoError(t, err)
	rig.hw.session.deliver(videoBuf(0, "back-cam"))

	require.NoError(t, rig.service.Stop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := rig.service.WaitRecord(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "clip.h264", res.Location)
}

func TestRuntimeErrorFailsRecording(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.startVideo(t)

	_, err := rig.service.StartRecord("clip")
	require.NoError(t, err)
	rig.hw.session.deliver(videoBuf(0, "back-cam"))

	rig.hw.session.errHandler(domain.ErrDeviceDisconnected)
	assert.Equal(t, domain.RecordFailed, rig.service.RecordState())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := rig.service.WaitRecord(ctx)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrDeviceDisconnected)
}

func TestPhotoModeBuffersNotRecorded(t *testing.T) {
	rig := newTestRig(t, Options{})
	rig.configure(t, domain.SessionConfig{Position: domain.PositionBack})
	require.NoError(t, rig.service.Start())

	var previewed int
	unsubscribe := rig.service.Handle().Subscribe(domain.PositionBack, func(domain.SampleBuffer) { previewed++ })
	rig.hw.session.deliver(videoBuf(0, "back-cam"))
	unsubscribe()
	rig.hw.session.deliver(videoBuf(time.Millisecond, "back-cam"))

	assert.Equal(t, 1, previewed)
	assert.Nil(t, rig.writers.current())
}
