package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/openmusic/openmusic/internal/exports"
	"github.com/openmusic/openmusic/internal/http/middlewares"
)

const exportAcceptedMessage = "Permintaan Anda sedang kami proses"

type ExportSubmitter interface {
	SubmitExport(ctx context.Context, playlistID, targetEmail, userID string) error
}

type ExportPlaylistRequest struct {
	TargetEmail string `json:"targetEmail" binding:"required,email,max=254"`
}

type ExportsHandler struct {
	submitter ExportSubmitter
	log       *slog.Logger
}

func NewExportsHandler(submitter ExportSubmitter, log *slog.Logger) *ExportsHandler {
	return &ExportsHandler{submitter: submitter, log: log}
}

// ExportPlaylist handles POST /export/playlists/:playlistId.
func (h *ExportsHandler) ExportPlaylist(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnauthorized(ctx, "Missing authentication")
		return
	}

	var req ExportPlaylistRequest
	if !BindJSON(ctx, &req) {
		return
	}

	playlistID := strings.TrimSpace(ctx.Param("playlistId"))

	err := h.submitter.SubmitExport(ctx.Request.Context(), playlistID, req.TargetEmail, userID)
	if err != nil {
		h.respondSubmitError(ctx, playlistID, userID, err)
		return
	}

	RespondSuccess(ctx, http.StatusCreated, exportAcceptedMessage)
}

func (h *ExportsHandler) respondSubmitError(ctx *gin.Context, playlistID, userID string, err error) {
	switch exports.KindOf(err) {
	case exports.KindNotFound:
		RespondNotFound(ctx, "Playlist tidak ditemukan")
	case exports.KindForbidden:
		RespondForbidden(ctx, "Anda tidak berhak mengakses resource ini")
	case exports.KindInvalidInput:
		RespondBadRequest(ctx, "Invalid request", nil)
	case exports.KindTransport:
		_ = ctx.Error(err)
		h.log.ErrorContext(ctx.Request.Context(), "export.submit_failed",
			"playlist_id", playlistID, "user_id", userID, "kind", exports.KindTransport, "err", err)
		RespondServiceUnavailable(ctx, "Export service is temporarily unavailable")
	default:
		_ = ctx.Error(err)
		h.log.ErrorContext(ctx.Request.Context(), "export.submit_failed",
			"playlist_id", playlistID, "user_id", userID, "kind", exports.KindUnexpected, "err", err)
		RespondInternal(ctx)
	}
}
