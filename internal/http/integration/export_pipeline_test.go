package integration_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmusic/openmusic/internal/auth"
	"github.com/openmusic/openmusic/internal/config"
	"github.com/openmusic/openmusic/internal/domain/playlist"
	"github.com/openmusic/openmusic/internal/exports"
	apphttp "github.com/openmusic/openmusic/internal/http"
	"github.com/openmusic/openmusic/internal/jobs"
	"github.com/openmusic/openmusic/internal/mail"
	"github.com/openmusic/openmusic/internal/playlists"
	"github.com/openmusic/openmusic/internal/queue/redisbroker"
	"github.com/openmusic/openmusic/internal/queue/worker"
	"github.com/openmusic/openmusic/internal/repo/memory"
)

const wantAttachment = `{
  "playlist": {
    "id": "playlist-p1",
    "name": "Viva la Vida picks",
    "songs": [
      {
        "id": "song-s1",
        "title": "Life in Technicolor",
        "performer": "Coldplay"
      },
      {
        "id": "song-s2",
        "title": "Cemeteries of London",
        "performer": "Coldplay"
      }
    ]
  }
}`

// capturingMailer builds the real message and keeps its attachment.
type capturingMailer struct {
	mu          sync.Mutex
	to          []string
	attachments []string
	onSend      func()
}

func (m *capturingMailer) Send(_ context.Context, to string, s playlist.Snapshot) error {
	msg, err := mail.BuildMessage("noreply@openmusic.dev", to, s)
	if err != nil {
		return err
	}

	files := msg.GetAttachments()
	if len(files) != 1 || files[0].Name != mail.AttachmentName {
		return mail.ErrTransport
	}

	var buf bytes.Buffer
	if _, err := files[0].Writer(&buf); err != nil {
		return err
	}

	m.mu.Lock()
	m.to = append(m.to, to)
	m.attachments = append(m.attachments, buf.String())
	m.mu.Unlock()

	if m.onSend != nil {
		m.onSend()
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func seededRepo() *memory.PlaylistsRepo {
	repo := memory.NewPlaylistsRepo()
	repo.AddPlaylist(playlist.Playlist{ID: "playlist-p1", Name: "Viva la Vida picks", Owner: "user-u1"})
	repo.AddSong(playlist.Song{ID: "song-s1", Title: "Life in Technicolor", Performer: "Coldplay"})
	repo.AddSong(playlist.Song{ID: "song-s2", Title: "Cemeteries of London", Performer: "Coldplay"})
	repo.AddSong(playlist.Song{ID: "song-s3", Title: "Lost!", Performer: "Coldplay"})
	repo.AddSongToPlaylist("playlist-p1", "song-s1")
	repo.AddSongToPlaylist("playlist-p1", "song-s2")
	return repo
}

type pipeline struct {
	router http.Handler
	broker *redisbroker.Broker
	rdb    *redis.Client
	tokens *auth.Manager
	repo   *memory.PlaylistsRepo
}

func setupPipeline(t *testing.T) pipeline {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	broker := redisbroker.NewWithClient(rdb, redisbroker.Config{
		Group:    "exporters",
		Consumer: "test-worker",
		Block:    20 * time.Millisecond,
	})
	t.Cleanup(func() { _ = broker.Close() })

	repo := seededRepo()
	tokens := auth.NewManager("test-secret", time.Hour)
	enqueuer := exports.NewEnqueuer(playlists.NewAccessGate(repo), broker, exports.WithLogger(discardLogger()))

	router := apphttp.NewRouter(config.Config{
		Env:             "test",
		ExportRateRPS:   100,
		ExportRateBurst: 100,
	}, apphttp.Deps{
		Log:     discardLogger(),
		Tokens:  tokens,
		Exports: enqueuer,
	})

	return pipeline{router: router, broker: broker, rdb: rdb, tokens: tokens, repo: repo}
}

func (p pipeline) submit(t *testing.T, userID, playlistID, body string) *httptest.ResponseRecorder {
	t.Helper()

	token, err := p.tokens.GenerateAccessToken(userID)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/export/playlists/"+playlistID, bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	p.router.ServeHTTP(w, req)
	return w
}

func (p pipeline) depth(t *testing.T) int {
	t.Helper()

	n, err := p.broker.Depth(context.Background(), jobs.QueueExportPlaylist)
	require.NoError(t, err)
	return n
}

// runWorker consumes until the mailer has seen want messages.
func (p pipeline) runWorker(t *testing.T, mailer *capturingMailer, want int) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen := 0
	mailer.onSend = func() {
		seen++
		if seen == want {
			cancel()
		}
	}

	w := worker.New(worker.Config{MaxAttempts: 3}, p.broker, playlists.NewSnapshotBuilder(p.repo), mailer, discardLogger(), nil, nil)
	require.NoError(t, w.Run(ctx))
	require.Equal(t, want, seen, "worker stopped before all mails were sent")
}

func TestExportPipeline_OwnerEndToEnd(t *testing.T) {
	p := setupPipeline(t)

	w := p.submit(t, "user-u1", "playlist-p1", `{"targetEmail":"dest@example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"status":"success","message":"Permintaan Anda sedang kami proses"}`, w.Body.String())

	entries, err := p.rdb.XRange(context.Background(), jobs.QueueExportPlaylist, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, `{"playlistId":"playlist-p1","targetEmail":"dest@example.com"}`, entries[0].Values["body"])

	mailer := &capturingMailer{}
	p.runWorker(t, mailer, 1)

	assert.Equal(t, []string{"dest@example.com"}, mailer.to)
	require.Len(t, mailer.attachments, 1)
	assert.Equal(t, wantAttachment, mailer.attachments[0])
	assert.Equal(t, 0, p.depth(t), "delivered message must be acknowledged")
}

func TestExportPipeline_OutsiderForbidden(t *testing.T) {
	p := setupPipeline(t)
	before := p.depth(t)

	w := p.submit(t, "user-u2", "playlist-p1", `{"targetEmail":"dest@example.com"}`)

	assert.Equal(t, http.StatusForbidden, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"fail"`)
	assert.Equal(t, before, p.depth(t), "nothing may be enqueued")
}

func TestExportPipeline_UnknownPlaylist(t *testing.T) {
	p := setupPipeline(t)

	w := p.submit(t, "user-u1", "playlist-missing", `{"targetEmail":"dest@example.com"}`)

	assert.Equal(t, http.StatusNotFound, w.Code, w.Body.String())
	assert.Equal(t, 0, p.depth(t))
}

func TestExportPipeline_CollaboratorAndBadToken(t *testing.T) {
	p := setupPipeline(t)
	p.repo.AddCollaborator("playlist-p1", "user-u3")

	w := p.submit(t, "user-u3", "playlist-p1", `{"targetEmail":"friend@example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/export/playlists/playlist-p1", bytes.NewBufferString(`{"targetEmail":"x@example.com"}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	p.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, p.depth(t))
}

func TestExportPipeline_MalformedMessageDoesNotBlock(t *testing.T) {
	p := setupPipeline(t)
	ctx := context.Background()

	// a producer bypassing the API
	require.NoError(t, p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: jobs.QueueExportPlaylist,
		Values: map[string]any{"body": `{"playlistId":`},
	}).Err())

	w := p.submit(t, "user-u1", "playlist-p1", `{"targetEmail":"dest@example.com"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	mailer := &capturingMailer{}
	p.runWorker(t, mailer, 1)

	assert.Equal(t, []string{"dest@example.com"}, mailer.to)
	assert.Equal(t, 0, p.depth(t))

	dead, err := p.rdb.XLen(ctx, jobs.QueueExportPlaylist+".dead").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
}
