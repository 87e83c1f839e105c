package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/i474232898/cold-storage-monitor/internal/domain"
	"github.com/i474232898/cold-storage-monitor/internal/metrics"
)

type recordingNotifier struct {
	kind  string
	err   error
	block chan struct{}

	mu       sync.Mutex
	messages []string
	ctxErr   error
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) error {
	if n.block != nil {
		select {
		case <-n.block:
		case <-ctx.Done():
			n.mu.Lock()
			n.ctxErr = ctx.Err()
			n.mu.Unlock()
			return ctx.Err()
		}
	}
	n.mu.Lock()
	n.messages = append(n.messages, message)
	n.mu.Unlock()
	return n.err
}

func (n *recordingNotifier) Type() string { return n.kind }

func (n *recordingNotifier) received() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

var anomalous = domain.AnomalyVerdict{
	IsAnomaly: true,
	Reason:    "Temperature 4.5°C is out of the acceptable range (0.0°C–4.0°C).",
}

func TestDispatch_NormalVerdictIsIgnored(t *testing.T) {
	n := &recordingNotifier{kind: "webhook"}
	d := NewDispatcher([]Notifier{n}, time.Second, nil, zap.NewNop())

	if _, ok := d.Dispatch(context.Background(), domain.AnomalyVerdict{Reason: "Conditions are normal"}); ok {
		t.Fatal("normal verdict must not produce an alert")
	}
	d.Wait()
	if len(n.received()) != 0 {
		t.Error("notifier should not have been called")
	}
}

func TestDispatch_RecordAndFanOut(t *testing.T) {
	a := &recordingNotifier{kind: "webhook"}
	b := &recordingNotifier{kind: "mqtt"}
	d := NewDispatcher([]Notifier{a, b}, time.Second, nil, zap.NewNop())
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	rec, ok := d.Dispatch(context.Background(), anomalous)
	if !ok {
		t.Fatal("expected alert")
	}
	if rec.Message != anomalous.Reason || !rec.Timestamp.Equal(fixed) {
		t.Errorf("record = %+v", rec)
	}

	d.Wait()
	for _, n := range []*recordingNotifier{a, b} {
		if got := n.received(); len(got) != 1 || got[0] != anomalous.Reason {
			t.Errorf("%s received %v", n.kind, got)
		}
	}
}

func TestDispatch_DoesNotBlockOnSlowNotifier(t *testing.T) {
	slow := &recordingNotifier{kind: "email", block: make(chan struct{})}
	d := NewDispatcher([]Notifier{slow}, time.Minute, nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), anomalous)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on notifier")
	}
	close(slow.block)
	d.Wait()
}

func TestDispatch_FailuresAreSwallowedAndCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	bad := &recordingNotifier{kind: "sms", err: errors.New("gateway down")}
	good := &recordingNotifier{kind: "webhook"}
	d := NewDispatcher([]Notifier{bad, good}, time.Second, m, zap.NewNop())

	if _, ok := d.Dispatch(context.Background(), anomalous); !ok {
		t.Fatal("expected alert despite notifier failure")
	}
	d.Wait()

	expected := `
# HELP coldroom_alerts_total Alert records created.
# TYPE coldroom_alerts_total counter
coldroom_alerts_total 1
# HELP coldroom_notifications_total Outbound notifications by notifier type and result.
# TYPE coldroom_notifications_total counter
coldroom_notifications_total{notifier="sms",result="error"} 1
coldroom_notifications_total{notifier="webhook",result="ok"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"coldroom_alerts_total", "coldroom_notifications_total"); err != nil {
		t.Error(err)
	}
}

func TestDispatch_OutlivesCallerCancellation(t *testing.T) {
	n := &recordingNotifier{kind: "webhook", block: make(chan struct{})}
	d := NewDispatcher([]Notifier{n}, time.Second, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, anomalous)
	cancel()
	time.Sleep(10 * time.Millisecond)
	close(n.block)
	d.Wait()

	if len(n.received()) != 1 {
		t.Error("delivery should survive caller cancellation")
	}
}

func TestDispatch_TimeoutBoundsDelivery(t *testing.T) {
	n := &recordingNotifier{kind: "webhook", block: make(chan struct{})}
	d := NewDispatcher([]Notifier{n}, 20*time.Millisecond, nil, zap.NewNop())

	d.Dispatch(context.Background(), anomalous)
	d.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	if !errors.Is(n.ctxErr, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", n.ctxErr)
	}
}

func TestDispatch_NoNotifiers(t *testing.T) {
	d := NewDispatcher(nil, 0, nil, zap.NewNop())
	if _, ok := d.Dispatch(context.Background(), anomalous); !ok {
		t.Fatal("alert is still recorded without notifiers")
	}
	d.Wait()
	if len(d.Types()) != 0 {
		t.Error("expected no notifier types")
	}
}
