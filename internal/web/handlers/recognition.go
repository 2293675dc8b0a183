package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kozaktomas/class-attendance/internal/attendance"
	"github.com/kozaktomas/class-attendance/internal/constants"
	"github.com/kozaktomas/class-attendance/internal/detector"
	"go.uber.org/zap"
)

// wsWriteTimeout bounds a single websocket write.
const wsWriteTimeout = 10 * time.Second

// RecognitionHandler serves photo and frame recognition.
type RecognitionHandler struct {
	service  *attendance.Service
	uploads  *uploadStore
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewRecognitionHandler creates a new recognition handler.
func NewRecognitionHandler(svc *attendance.Service, uploadDir string, logger *zap.Logger) *RecognitionHandler {
	return &RecognitionHandler{
		service: svc,
		uploads: newUploadStore(uploadDir, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // origin policy is enforced by the CORS middleware
			},
		},
		logger: logger,
	}
}

// Batch reconciles one classroom photo. Subject and slot are required; the
// date defaults to today.
func (h *RecognitionHandler) Batch(w http.ResponseWriter, r *http.Request) {
	h.recognize(w, r, attendance.ModeBatch)
}

// Stream reconciles one live frame. Subject and slot default to "Default".
func (h *RecognitionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	h.recognize(w, r, attendance.ModeStreaming)
}

func (h *RecognitionHandler) recognize(w http.ResponseWriter, r *http.Request, mode attendance.Mode) {
	data, path, err := h.uploads.receive(w, r)
	defer h.uploads.cleanup(path)
	if err != nil {
		respondUploadError(w, h.logger, err)
		return
	}

	capture := attendance.Capture{
		GroupTag: r.FormValue("section"),
		Subject:  r.FormValue("subject"),
		Slot:     r.FormValue("slot"),
		Date:     r.FormValue("date"),
		Mode:     mode,
	}
	if mode == attendance.ModeStreaming {
		// live frames always count towards today
		capture.Date = ""
	}

	result, err := h.service.RecognizeImage(r.Context(), data, capture)
	if err != nil {
		respondServiceError(w, h.logger, "recognition", err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// wsError is sent over the websocket when a frame cannot be processed.
type wsError struct {
	Error string `json:"error"`
}

// WebSocket accepts binary frames and answers each one with a streaming
// recognition result. Text messages are ignored.
func (h *RecognitionHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	section := r.URL.Query().Get("section")
	if section == "" {
		respondError(w, http.StatusBadRequest, "section is required")
		return
	}
	base := attendance.Capture{
		GroupTag: section,
		Subject:  r.URL.Query().Get("subject"),
		Slot:     r.URL.Query().Get("slot"),
		Mode:     attendance.ModeStreaming,
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(constants.MaxFrameSize)

	log := h.logger.With(zap.String("section", sanitizeForLog(section)), zap.String("remote", r.RemoteAddr))
	log.Info("live recognition connected")

	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read ended", zap.Error(err))
			}
			log.Info("live recognition disconnected")
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		reply := h.processFrame(r.Context(), frame, base)
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
			return
		}
		if err := conn.WriteJSON(reply); err != nil {
			log.Warn("websocket write failed", zap.Error(err))
			return
		}
	}
}

func (h *RecognitionHandler) processFrame(ctx context.Context, frame []byte, base attendance.Capture) any {
	if _, err := detector.SniffImage(frame); err != nil {
		return wsError{Error: msgNotAnImage}
	}
	result, err := h.service.RecognizeImage(ctx, frame, base)
	if err != nil {
		status, message := errorStatus(err)
		if status >= http.StatusInternalServerError && !errors.Is(err, detector.ErrUnavailable) {
			h.logger.Error("frame recognition failed", zap.Error(err))
		}
		return wsError{Error: message}
	}
	return result
}
