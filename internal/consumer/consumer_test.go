package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wisefido-kiosk/internal/clock"
	"wisefido-kiosk/internal/display"
	"wisefido-kiosk/internal/kioskerr"
	"wisefido-kiosk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	dedupWindow = 5 * time.Second
	hideWindow  = 10 * time.Second
)

// stubEnricher 可按 ID 阻塞或失败的目录
type stubEnricher struct {
	mu      sync.Mutex
	records map[string]models.DisplayRecord
	cached  map[string]models.DisplayRecord
	gates   map[string]chan struct{}
	fail    bool
}

func newStubEnricher() *stubEnricher {
	return &stubEnricher{
		records: make(map[string]models.DisplayRecord),
		cached:  make(map[string]models.DisplayRecord),
		gates:   make(map[string]chan struct{}),
	}
}

func (e *stubEnricher) LoadByID(ctx context.Context, id string) (models.DisplayRecord, error) {
	e.mu.Lock()
	gate := e.gates[id]
	e.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.DisplayRecord{}, ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return models.DisplayRecord{}, &kioskerr.NetworkError{Op: "get record", Err: errors.New("offline")}
	}
	rec, ok := e.records[id]
	if !ok {
		return models.DisplayRecord{}, kioskerr.ErrNotFound
	}
	return rec, nil
}

func (e *stubEnricher) Lookup(_ context.Context, id string) (models.DisplayRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.cached[id]
	return rec, ok
}

type recordingAnnouncer struct {
	mu    sync.Mutex
	texts []string
}

func (a *recordingAnnouncer) Speak(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
}

func (a *recordingAnnouncer) spoken() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}

type recordingRecorder struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (r *recordingRecorder) RecordArrival(_ context.Context, _ string, rec models.DisplayRecord, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, rec.ID)
	return r.err
}

type harness struct {
	clk       *clock.Fake
	enricher  *stubEnricher
	machine   *display.Machine
	announcer *recordingAnnouncer
	consumer  *Consumer
	shown     chan models.DisplayRecord
}

func newHarness(t *testing.T, recorder ArrivalRecorder) *harness {
	t.Helper()
	h := &harness{
		clk:       clock.NewFake(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
		enricher:  newStubEnricher(),
		announcer: &recordingAnnouncer{},
		shown:     make(chan models.DisplayRecord, 16),
	}
	h.machine = display.NewMachine(hideWindow, 0, h.clk, zap.NewNop())
	h.machine.Subscribe(func(s display.Snapshot) {
		if s.State == display.StateShowing && s.Current != nil {
			h.shown <- *s.Current
		}
	})

	h.consumer = NewConsumer(Options{
		StationID:   "station-test",
		DedupWindow: dedupWindow,
		QueueSize:   16,
		Greeting:    "Welcome",
	}, h.enricher, h.machine, h.announcer, recorder, h.clk, zap.NewNop())
	h.consumer.Start(context.Background())

	t.Cleanup(func() {
		h.consumer.Stop()
		h.machine.Close()
	})
	return h
}

func (h *harness) addRecord(id, name string) {
	h.enricher.mu.Lock()
	defer h.enricher.mu.Unlock()
	h.enricher.records[id] = models.DisplayRecord{ID: id, FullName: name}
}

func (h *harness) gate(id string) chan struct{} {
	h.enricher.mu.Lock()
	defer h.enricher.mu.Unlock()
	ch := make(chan struct{})
	h.enricher.gates[id] = ch
	return ch
}

func (h *harness) expectShown(t *testing.T, id string) models.DisplayRecord {
	t.Helper()
	select {
	case rec := <-h.shown:
		require.Equal(t, id, rec.ID)
		return rec
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s to be shown", id)
		return models.DisplayRecord{}
	}
}

func (h *harness) expectNothingShown(t *testing.T) {
	t.Helper()
	select {
	case rec := <-h.shown:
		t.Fatalf("unexpected display of %s", rec.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func arrivalOf(id string) models.CheckinNotification {
	return models.CheckinNotification{SubjectID: id, CheckedIn: true}
}

func TestConsumer_ArrivalShownAnnouncedAndTimerArmed(t *testing.T) {
	h := newHarness(t, nil)
	h.addRecord("7", "Jane Doe")

	h.consumer.Receive(arrivalOf("7"))
	rec := h.expectShown(t, "7")

	assert.Equal(t, "Jane Doe", rec.FullName)
	assert.True(t, rec.CheckedIn)
	require.NotNil(t, rec.CheckinTime)
	assert.True(t, rec.CheckinTime.Equal(h.clk.Now()))

	snap := h.machine.Snapshot()
	assert.Equal(t, display.StateShowing, snap.State)
	assert.Len(t, snap.Recent, 1)
	assert.Equal(t, hideWindow, snap.HideAt.Sub(*snap.ShownAt))
	require.Eventually(t, func() bool { return len(h.announcer.spoken()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"Welcome, Jane Doe"}, h.announcer.spoken())
}

func TestConsumer_CheckedOutIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.addRecord("7", "Jane Doe")

	h.consumer.Receive(models.CheckinNotification{SubjectID: "7", CheckedIn: false})
	h.expectNothingShown(t)
	assert.Empty(t, h.announcer.spoken())
	assert.Equal(t, display.StateEmpty, h.machine.Snapshot().State)
}

func TestConsumer_DuplicateWithinWindowDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	h.addRecord("7", "Jane Doe")

	h.consumer.Receive(arrivalOf("7"))
	h.expectShown(t, "7")
	firstHideAt := *h.machine.Snapshot().HideAt

	h.clk.Advance(2 * time.Second)
	h.consumer.Receive(arrivalOf("7"))
	h.expectNothingShown(t)
	assert.Equal(t, firstHideAt, *h.machine.Snapshot().HideAt)

	// 距上一次显示 6s，超出 5s 窗口，按新到达处理并重启定时器
	h.clk.Advance(4 * time.Second)
	h.consumer.Receive(arrivalOf("7"))
	h.expectShown(t, "7")

	snap := h.machine.Snapshot()
	assert.Equal(t, h.clk.Now().Add(hideWindow), *snap.HideAt)
	assert.Len(t, snap.Recent, 1)
	require.Eventually(t, func() bool { return len(h.announcer.spoken()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestConsumer_DedupBoundaryIsExclusive(t *testing.T) {
	h := newHarness(t, nil)
	h.addRecord("7", "Jane Doe")

	h.consumer.Receive(arrivalOf("7"))
	h.expectShown(t, "7")

	h.clk.Advance(dedupWindow)
	h.consumer.Receive(arrivalOf("7"))
	h.expectShown(t, "7")
}

func TestConsumer_DifferentSubjectNeverDeduplicated(t *testing.T) {
	h := newHarness(t, nil)
	h.addRecord("7", "Jane Doe")
	h.addRecord("8", "John Roe")

	h.consumer.Receive(arrivalOf("7"))
	h.consumer.Receive(arrivalOf("8"))
	h.consumer.Receive(arrivalOf("7"))

	h.expectShown(t, "7")
	h.expectShown(t, "8")
	h.expectShown(t, "7")
}

func TestConsumer_SlowLookupDoesNotOverwriteLaterArrival(t *testing.T) {
	h := newHarness(t, nil)
	h.addRecord("1", "Slow Subject")
	h.addRecord("2", "Fast Subject")
	release := h.gate("1")

	h.consumer.Receive(arrivalOf("1"))
	h.consumer.Receive(arrivalOf("2"))

	// 2 的查询已完成，但必须等 1 应用之后
	h.expectNothingShown(t)

	close(release)
	h.expectShown(t, "1")
	h.expectShown(t, "2")

	snap := h.machine.Snapshot()
	assert.Equal(t, "2", snap.Current.ID)
	assert.Equal(t, "2", snap.Recent[0].ID)
	assert.Equal(t, "1", snap.Recent[1].ID)
}

func TestConsumer_LookupFailureFallsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.enricher.fail = true
	h.enricher.cached["7"] = models.DisplayRecord{ID: "7", FullName: "Cached Jane"}

	notified := time.Date(2026, 3, 1, 7, 55, 0, 0, time.UTC)
	h.consumer.Receive(models.CheckinNotification{SubjectID: "7", CheckedIn: true, CheckinTime: &notified})
	rec := h.expectShown(t, "7")
	assert.Equal(t, "Cached Jane", rec.FullName)
	assert.True(t, rec.CheckinTime.Equal(notified))

	h.consumer.Receive(arrivalOf("9"))
	minimal := h.expectShown(t, "9")
	assert.Empty(t, minimal.FullName)
	assert.True(t, minimal.CheckedIn)
	require.Eventually(t, func() bool {
		texts := h.announcer.spoken()
		return len(texts) == 2 && texts[1] == "Welcome, 9"
	}, time.Second, 5*time.Millisecond)
}

func TestConsumer_RecorderFailureDoesNotBlockDisplay(t *testing.T) {
	recorder := &recordingRecorder{err: errors.New("db down")}
	h := newHarness(t, recorder)
	h.addRecord("7", "Jane Doe")
	h.addRecord("8", "John Roe")

	h.consumer.Receive(arrivalOf("7"))
	h.consumer.Receive(arrivalOf("8"))
	h.expectShown(t, "7")
	h.expectShown(t, "8")

	require.Eventually(t, func() bool {
		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		return len(recorder.ids) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestConsumer_StopIsIdempotentAndDropsLateNotifications(t *testing.T) {
	h := newHarness(t, nil)
	h.addRecord("7", "Jane Doe")

	h.consumer.Stop()
	h.consumer.Stop()

	done := make(chan struct{})
	go func() {
		h.consumer.Receive(arrivalOf("7"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Receive blocked after stop")
	}
	h.expectNothingShown(t)
}

func TestConsumer_ConnectionStateFollowsLifecycleSignals(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, models.ConnectionConnecting, h.consumer.ConnectionState())

	var seen []models.ConnectionState
	h.consumer.OnConnectionState(func(s models.ConnectionState) { seen = append(seen, s) })

	h.consumer.SetConnectionState(models.ConnectionConnected)
	h.consumer.SetConnectionState(models.ConnectionConnected)
	h.consumer.SetConnectionState(models.ConnectionDisconnected)

	assert.Equal(t, models.ConnectionDisconnected, h.consumer.ConnectionState())
	assert.Equal(t, []models.ConnectionState{models.ConnectionConnected, models.ConnectionDisconnected}, seen)
}
