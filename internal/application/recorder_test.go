package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webcam-capture/internal/domain"
)

var (
	videoTrack = domain.TrackSpec{Kind: domain.BufferVideo, Codec: "h264", ClockRate: 90000}
	audioTrack = domain.TrackSpec{Kind: domain.BufferAudio, Codec: "opus", ClockRate: 48000, Channels: 1}
)

type recorderRig struct {
	machine    *RecordingStateMachine
	writers    *fakeWriterFactory
	clock      *fakeClock
	events     *eventLog
	dispatcher *Dispatcher
}

func newRecorderRig(t *testing.T, queueSize int) *recorderRig {
	t.Helper()
	rig := &recorderRig{
		writers: &fakeWriterFactory{},
		clock:   &fakeClock{},
		events:  newEventLog(AllEvents),
	}
	rig.dispatcher = NewDispatcher(testLogger())
	rig.dispatcher.SetObserver(rig.events)
	rig.machine = NewRecordingStateMachine(rig.writers, rig.clock, rig.dispatcher, testLogger(), queueSize)
	return rig
}

func (r *recorderRig) wait(t *testing.T) domain.RecordResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := r.machine.Wait(ctx)
	require.NoError(t, err)
	return res
}

func TestRecordingPauseResumeExcludesPause(t *testing.T) {
	rig := newRecorderRig(t, 0)
	const frame = 33 * time.Millisecond

	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack})
	require.NoError(t, err)

	for i := 0; i < 30; i++ {
		rig.machine.AppendVideo(videoBuf(time.Duration(i)*frame, "back-cam"))
	}

	rig.clock.Set(time.Second)
	require.NoError(t, rig.machine.Pause())
	require.NoError(t, rig.machine.Pause())
	assert.Equal(t, domain.RecordPaused, rig.machine.State())

	// во время паузы буферы не пишутся
	rig.machine.AppendVideo(videoBuf(2*time.Second, "back-cam"))

	rig.clock.Set(3 * time.Second)
	require.NoError(t, rig.machine.Resume())

	// снят во время паузы, доставлен после нее
	rig.machine.AppendVideo(videoBuf(2500*time.Millisecond, "back-cam"))

	for i := 0; i < 30; i++ {
		rig.machine.AppendVideo(videoBuf(3*time.Second+time.Duration(i)*frame, "back-cam"))
	}

	require.NoError(t, rig.machine.Stop())
	res := rig.wait(t)

	require.True(t, res.Success, "запись: %v", res.Err)
	assert.Equal(t, 60, res.VideoSamples)
	assert.Equal(t, time.Second+30*frame, res.VideoDuration)
	assert.Less(t, res.VideoDuration, 2*time.Second)
	assert.Equal(t, "clip.h264", res.Location)

	ts := rig.writers.current().timestamps(domain.BufferVideo)
	require.Len(t, ts, 60)
	for i := 1; i < len(ts); i++ {
		assert.Greater(t, ts[i], ts[i-1])
	}
	assert.Equal(t, time.Second, ts[30])
	assert.Equal(t, domain.RecordFinished, rig.machine.State())
}

func TestRecordingDropsNonIncreasingTimestamps(t *testing.T) {
	rig := newRecorderRig(t, 0)
	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack})
	require.NoError(t, err)

	rig.machine.AppendVideo(videoBuf(100*time.Millisecond, "cam"))
	rig.machine.AppendVideo(videoBuf(100*time.Millisecond, "cam"))
	rig.machine.AppendVideo(videoBuf(50*time.Millisecond, "cam"))
	rig.machine.AppendVideo(videoBuf(133*time.Millisecond, "cam"))

	require.NoError(t, rig.machine.Stop())
	res := rig.wait(t)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.VideoSamples)
	assert.Equal(t, 2, res.Dropped)
}

func TestRecordingFlushesEarlyAudioAfterFirstFrame(t *testing.T) {
	rig := newRecorderRig(t, 0)
	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack, audioTrack})
	require.NoError(t, err)

	rig.machine.AppendAudio(audioBuf(90 * time.Millisecond))
	rig.machine.AppendAudio(audioBuf(110 * time.Millisecond))
	rig.machine.AppendVideo(videoBuf(100*time.Millisecond, "cam"))
	rig.machine.AppendAudio(audioBuf(130 * time.Millisecond))

	require.NoError(t, rig.machine.Stop())
	res := rig.wait(t)
	require.True(t, res.Success)

	w := rig.writers.current()
	assert.Equal(t, []time.Duration{110 * time.Millisecond, 130 * time.Millisecond}, w.timestamps(domain.BufferAudio))
	assert.Equal(t, 2, res.AudioSamples)
	assert.Equal(t, 40*time.Millisecond, res.AudioDuration)
}

func TestRecordingIgnoresAudioWithoutAudioTrack(t *testing.T) {
	rig := newRecorderRig(t, 0)
	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack})
	require.NoError(t, err)

	rig.machine.AppendVideo(videoBuf(0, "cam"))
	rig.machine.AppendAudio(audioBuf(10 * time.Millisecond))
	require.NoError(t, rig.machine.Stop())

	res := rig.wait(t)
	assert.Equal(t, 0, res.AudioSamples)
	assert.Empty(t, rig.writers.current().timestamps(domain.BufferAudio))
}

func TestRecordingStopTwiceDeliversSingleResult(t *testing.T) {
	rig := newRecorderRig(t, 0)
	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack})
	require.NoError(t, err)
	rig.machine.AppendVideo(videoBuf(0, "cam"))

	require.NoError(t, rig.machine.Stop())
	require.NoError(t, rig.machine.Stop())
	rig.wait(t)
	require.NoError(t, rig.machine.Stop())

	rig.dispatcher.Close()
	assert.Len(t, rig.events.of(EventRecordResult), 1)

	var states []domain.RecordState
	for _, ev := range rig.events.of(EventRecordState) {
		states = append(states, ev.RecordState)
	}
	assert.Equal(t, []domain.RecordState{domain.RecordRecording, domain.RecordFinalizing, domain.RecordFinished}, states)
}

func TestRecordingFailCancelsWriter(t *testing.T) {
	rig := newRecorderRig(t, 0)
	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack})
	require.NoError(t, err)
	rig.machine.AppendVideo(videoBuf(0, "cam"))

	rig.machine.Fail(domain.ErrDeviceDisconnected)
	assert.Equal(t, domain.RecordFailed, rig.machine.State())

	// после Fail буферы не принимаются
	rig.machine.AppendVideo(videoBuf(time.Second, "cam"))

	res := rig.wait(t)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, domain.ErrDeviceDisconnected)

	var rerr *domain.RecordingError
	assert.ErrorAs(t, res.Err, &rerr)

	w := rig.writers.current()
	w.mu.Lock()
	assert.True(t, w.canceled)
	assert.False(t, w.finished)
	w.mu.Unlock()

	rig.dispatcher.Close()
	assert.Len(t, rig.events.of(EventRecordResult), 1)
}

func TestRecordingAppendErrorFails(t *testing.T) {
	rig := newRecorderRig(t, 0)
	rig.writers.appendErr = errors.New("disk full")
	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack})
	require.NoError(t, err)

	rig.machine.AppendVideo(videoBuf(0, "cam"))

	res := rig.wait(t)
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "disk full")
	assert.Equal(t, domain.RecordFailed, rig.machine.State())
}

func TestRecordingWithoutVideoFails(t *testing.T) {
	rig := newRecorderRig(t, 0)
	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack})
	require.NoError(t, err)

	require.NoError(t, rig.machine.Stop())
	res := rig.wait(t)
	assert.False(t, res.Success)
	assert.Equal(t, domain.RecordFailed, rig.machine.State())
}

func TestRecordingLogsCancelError(t *testing.T) {
	rig := newRecorderRig(t, 0)
	log := &errorLog{}
	rig.machine = NewRecordingStateMachine(rig.writers, rig.clock, rig.dispatcher, log, 0)
	rig.writers.cancelErr = errors.New("файл занят")

	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack})
	require.NoError(t, err)
	require.NoError(t, rig.machine.Stop())

	res := rig.wait(t)
	assert.False(t, res.Success)
	assert.True(t, rig.writers.current().canceled)
	assert.Contains(t, strings.Join(log.messages(), "\n"), "файл занят")
}

func TestRecordingCapsAudioBeforeFirstFrame(t *testing.T) {
	rig := newRecorderRig(t, 4)
	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack, audioTrack})
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		rig.machine.AppendAudio(audioBuf(time.Duration(i) * 20 * time.Millisecond))
	}

	rig.machine.mu.Lock()
	pending, dropped := len(rig.machine.rec.pending), rig.machine.rec.dropped
	rig.machine.mu.Unlock()
	assert.Equal(t, 4, pending)
	assert.Equal(t, 2, dropped)

	require.NoError(t, rig.machine.Stop())
	res := rig.wait(t)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Dropped)
}

func TestRecordingStateErrors(t *testing.T) {
	rig := newRecorderRig(t, 0)
	rig.writers.finishGate = make(chan struct{})

	assert.ErrorIs(t, rig.machine.Pause(), domain.ErrNotRecording)
	assert.ErrorIs(t, rig.machine.Resume(), domain.ErrNotRecording)
	assert.NoError(t, rig.machine.Stop())

	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack})
	require.NoError(t, err)
	_, err = rig.machine.Start("other", []domain.TrackSpec{videoTrack})
	assert.ErrorIs(t, err, domain.ErrAlreadyRecording)

	rig.machine.AppendVideo(videoBuf(0, "cam"))
	require.NoError(t, rig.machine.Stop())
	assert.Equal(t, domain.RecordFinalizing, rig.machine.State())
	assert.ErrorIs(t, rig.machine.Pause(), domain.ErrRecordingFinalizing)
	assert.ErrorIs(t, rig.machine.Resume(), domain.ErrRecordingFinalizing)
	_, err = rig.machine.Start("other", []domain.TrackSpec{videoTrack})
	assert.ErrorIs(t, err, domain.ErrAlreadyRecording)

	close(rig.writers.finishGate)
	res := rig.wait(t)
	assert.True(t, res.Success)
}

func TestRecordingQueueOverflowDropsBuffers(t *testing.T) {
	rig := newRecorderRig(t, 2)
	gate := make(chan struct{})
	rig.writers.appendGate = gate
	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		rig.machine.AppendVideo(videoBuf(time.Duration(i)*time.Millisecond, "cam"))
	}
	close(gate)

	require.NoError(t, rig.machine.Stop())
	res := rig.wait(t)
	assert.True(t, res.Success)
	assert.GreaterOrEqual(t, res.Dropped, 7)
	assert.Equal(t, 10, res.VideoSamples+res.Dropped)
}

func TestRecordingOpenError(t *testing.T) {
	rig := newRecorderRig(t, 0)
	rig.writers.openErr = errors.New("read-only fs")

	_, err := rig.machine.Start("clip", []domain.TrackSpec{videoTrack})
	var rerr *domain.RecordingError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "start", rerr.Op)
	assert.Equal(t, domain.RecordIdle, rig.machine.State())
}
