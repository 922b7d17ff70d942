package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmusic/openmusic/internal/domain/playlist"
	"github.com/openmusic/openmusic/internal/mail"
	"github.com/openmusic/openmusic/internal/observability"
	"github.com/openmusic/openmusic/internal/playlists"
	"github.com/openmusic/openmusic/internal/queue"
	"github.com/openmusic/openmusic/internal/repo/memory"
)

type fakeDelivery struct {
	msg    queue.Message
	action string
	reason string
}

func (d *fakeDelivery) Message() queue.Message { return d.msg }
func (d *fakeDelivery) Redelivered() bool      { return false }

func (d *fakeDelivery) Ack(context.Context) error {
	d.action = "ack"
	return nil
}

func (d *fakeDelivery) Requeue(context.Context) error {
	d.action = "requeue"
	return nil
}

func (d *fakeDelivery) DeadLetter(_ context.Context, reason string) error {
	d.action = "dead_letter"
	d.reason = reason
	return nil
}

type sentMail struct {
	to   string
	snap playlist.Snapshot
}

type fakeMailer struct {
	mu   sync.Mutex
	err  error
	sent []sentMail
}

func (m *fakeMailer) Send(_ context.Context, to string, s playlist.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, snap: s})
	return nil
}

// fakeSubscriber hands out its deliveries in order, then waits for cancel.
type fakeSubscriber struct {
	deliveries []*fakeDelivery
}

func (s *fakeSubscriber) Consume(ctx context.Context, _ string, h queue.Handler) error {
	for _, d := range s.deliveries {
		h(ctx, d)
	}
	<-ctx.Done()
	return nil
}

func (s *fakeSubscriber) Depth(context.Context, string) (int, error) { return 0, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBuilder() *playlists.SnapshotBuilder {
	repo := memory.NewPlaylistsRepo()
	repo.AddPlaylist(playlist.Playlist{ID: "playlist-p1", Name: "Road Trip", Owner: "user-u1"})
	repo.AddSong(playlist.Song{ID: "song-s1", Title: "Fix You", Performer: "Coldplay"})
	repo.AddSongToPlaylist("playlist-p1", "song-s1")

	return playlists.NewSnapshotBuilder(repo)
}

func newTestWorker(cfg Config, sub queue.Subscriber, mailer mail.Dispatcher) *Worker {
	return New(cfg, sub, testBuilder(), mailer, discardLogger(), nil, nil)
}

func delivery(body string, attempt string) *fakeDelivery {
	return &fakeDelivery{msg: queue.Message{
		Body:    []byte(body),
		Headers: map[string]string{queue.HeaderAttempt: attempt, queue.HeaderSchemaVersion: "1"},
	}}
}

const validBody = `{"playlistId":"playlist-p1","targetEmail":"dest@example.com"}`

func TestProcessDeliveryOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		policy    AckPolicy
		body      string
		attempt   string
		mailErr   error
		want      Outcome
		action    string
		reason    string
		mailsSent int
	}{
		{"delivered", AckRetry, validBody, "1", nil, Delivered, "ack", "", 1},
		{"malformed json", AckRetry, `{"playlistId":`, "1", nil, DeadLettered, "dead_letter", "invalid_input", 0},
		{"missing email", AckRetry, `{"playlistId":"playlist-p1"}`, "1", nil, DeadLettered, "dead_letter", "invalid_input", 0},
		{"playlist gone", AckRetry, `{"playlistId":"playlist-x","targetEmail":"dest@example.com"}`, "1", nil, DeadLettered, "dead_letter", "not_found", 0},
		{"transport retried", AckRetry, validBody, "1", mail.ErrTransport, Retried, "requeue", "", 0},
		{"transport exhausted", AckRetry, validBody, "3", mail.ErrTransport, DeadLettered, "dead_letter", "max_attempts:transport", 0},
		{"always acks failures", AckAlways, validBody, "1", mail.ErrTransport, Dropped, "ack", "", 0},
		{"always acks malformed", AckAlways, `nope`, "1", nil, Dropped, "ack", "", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mailer := &fakeMailer{err: tc.mailErr}
			w := newTestWorker(Config{AckPolicy: tc.policy, MaxAttempts: 3}, &fakeSubscriber{}, mailer)

			d := delivery(tc.body, tc.attempt)
			got := w.ProcessDelivery(context.Background(), d)

			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.action, d.action)
			assert.Equal(t, tc.reason, d.reason)
			assert.Len(t, mailer.sent, tc.mailsSent)
		})
	}
}

func TestProcessDeliverySendsSnapshot(t *testing.T) {
	mailer := &fakeMailer{}
	w := newTestWorker(Config{}, &fakeSubscriber{}, mailer)

	w.ProcessDelivery(context.Background(), delivery(validBody, "1"))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "dest@example.com", mailer.sent[0].to)
	assert.Equal(t, playlist.Snapshot{
		ID:    "playlist-p1",
		Name:  "Road Trip",
		Songs: []playlist.Song{{ID: "song-s1", Title: "Fix You", Performer: "Coldplay"}},
	}, mailer.sent[0].snap)
}

func TestUnsupportedSchemaIsDeadLettered(t *testing.T) {
	w := newTestWorker(Config{}, &fakeSubscriber{}, &fakeMailer{})

	d := delivery(validBody, "1")
	d.msg.Headers[queue.HeaderSchemaVersion] = "9"

	assert.Equal(t, DeadLettered, w.ProcessDelivery(context.Background(), d))
	assert.Equal(t, "invalid_input", d.reason)
}

func TestRetrySkipsPauseOnShutdown(t *testing.T) {
	w := newTestWorker(Config{RetryBaseDelay: time.Hour}, &fakeSubscriber{}, &fakeMailer{err: mail.ErrTransport})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := delivery(validBody, "1")
	assert.Equal(t, Retried, w.ProcessDelivery(ctx, d))
	assert.Equal(t, "requeue", d.action)
}

func TestRunMalformedMessageDoesNotBlock(t *testing.T) {
	bad := delivery(`garbage`, "1")
	good := delivery(validBody, "1")
	sub := &fakeSubscriber{deliveries: []*fakeDelivery{bad, good}}

	mailer := &fakeMailer{}
	stats := observability.NewExportStats()
	w := New(Config{}, sub, testBuilder(), mailer, discardLogger(), nil, stats)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, w.Run(ctx))

	assert.Equal(t, "dead_letter", bad.action)
	assert.Equal(t, "ack", good.action)
	assert.Len(t, mailer.sent, 1)

	snap := stats.Snapshot()
	assert.Equal(t, uint64(2), snap.Received)
	assert.Equal(t, uint64(1), snap.Delivered)
	assert.Equal(t, uint64(1), snap.DeadLettered)
	assert.False(t, w.Ready(), "not ready once Run returned")
}

func TestRetryDelay(t *testing.T) {
	assert.Zero(t, RetryDelay(0, 3))

	d := RetryDelay(time.Second, 1)
	assert.GreaterOrEqual(t, d, time.Second)
	assert.Less(t, d, time.Second+250*time.Millisecond)

	d = RetryDelay(time.Second, 3)
	assert.GreaterOrEqual(t, d, 4*time.Second)

	d = RetryDelay(time.Second, 60)
	assert.LessOrEqual(t, d, maxRetryDelay+250*time.Millisecond)
}

func TestParseAckPolicy(t *testing.T) {
	p, err := ParseAckPolicy("always")
	require.NoError(t, err)
	assert.Equal(t, AckAlways, p)

	_, err = ParseAckPolicy("never")
	assert.Error(t, err)
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := newTestWorker(Config{}, &fakeSubscriber{}, &fakeMailer{})
	h := w.HealthHandler(map[string]ReadinessDeps{"db": pinger{}}, nil)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code, "not consuming yet")

	w.setReady(true)
	assert.Equal(t, http.StatusOK, get("/readyz").Code)

	rec := get("/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "exports")
	assert.Equal(t, float64(0), body["queueDepth"])
}

func TestHealthHandlerFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := newTestWorker(Config{}, &fakeSubscriber{}, &fakeMailer{})
	w.setReady(true)

	h := w.HealthHandler(map[string]ReadinessDeps{"broker": pinger{err: queue.ErrBrokerUnavailable}}, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "broker")
}
