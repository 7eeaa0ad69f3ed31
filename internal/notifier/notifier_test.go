package notifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	calls int
	id    string
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, wsClientID string, event any) error {
	f.calls++
	f.id = wsClientID
	return f.err
}

type recordingTelemetry struct {
	names []string
}

func (r *recordingTelemetry) Record(ctx context.Context, name string, attrs map[string]any) {
	r.names = append(r.names, name)
}

func TestNotify_PublishesWhenClientIDSet(t *testing.T) {
	pub := &fakePublisher{}
	n := &Notifier{Publisher: pub, Telemetry: NoopTelemetrySink{}}
	n.Notify(context.Background(), Event{WebSocketClientID: "ws-1", Success: true})

	require.Equal(t, 1, pub.calls)
	assert.Equal(t, "ws-1", pub.id)
}

func TestNotify_NoPublishWithoutClientID(t *testing.T) {
	pub := &fakePublisher{}
	n := &Notifier{Publisher: pub}
	n.Notify(context.Background(), Event{Success: true})

	assert.Equal(t, 0, pub.calls)
}

func TestNotify_NilCollaboratorsAreSafe(t *testing.T) {
	n := &Notifier{}
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), Event{WebSocketClientID: "ws-1", Success: false, ErrorCode: "boom"})
	})
}

func TestNotify_RecordsTelemetry(t *testing.T) {
	tel := &recordingTelemetry{}
	n := &Notifier{Telemetry: tel}
	n.Notify(context.Background(), Event{Success: true})

	require.Len(t, tel.names, 1)
	assert.Equal(t, "auth.terminal", tel.names[0])
}

func TestNotify_PublishErrorDoesNotPanic(t *testing.T) {
	pub := &fakePublisher{err: assertErr{}}
	n := &Notifier{Publisher: pub}
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), Event{WebSocketClientID: "ws-1", Success: true})
	})
}

type assertErr struct{}

func (assertErr) Error() string { return "publish failed" }
