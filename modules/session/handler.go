package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
)

// Handler - 세션 API 핸들러
type Handler struct {
	manager        *Manager
	rdb            *redis.Client
	maxUploadBytes int64
}

func NewHandler(manager *Manager, rdb *redis.Client, maxUploadBytes int64) *Handler {
	return &Handler{
		manager:        manager,
		rdb:            rdb,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes - 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/sessions/{sessionId}/video", h.HandleUpload).Methods("POST")
	r.HandleFunc("/api/sessions/{sessionId}", h.HandleGetSession).Methods("GET")
	r.HandleFunc("/api/sessions/{sessionId}/prompts", h.HandleGetPrompts).Methods("GET")
	r.HandleFunc("/api/sessions/{sessionId}/json", h.HandleEditJSON).Methods("PUT")
	r.HandleFunc("/api/sessions/{sessionId}/select", h.HandleSelectShot).Methods("POST")
	r.HandleFunc("/api/sessions/{sessionId}/view", h.HandleSetView).Methods("POST")
	r.HandleFunc("/api/sessions/{sessionId}/download", h.HandleDownload).Methods("GET")
	r.HandleFunc("/api/sessions/{sessionId}/clipboard/json", h.HandleClipboardJSON).Methods("GET")
	r.HandleFunc("/api/sessions/{sessionId}/clipboard/prompts/{sceneId}", h.HandleClipboardPrompt).Methods("GET")
	r.HandleFunc("/api/sessions/{sessionId}/reset", h.HandleReset).Methods("POST")
	log.Println("✅ Session routes registered: /api/sessions/{sessionId}/...")
}

// HandleUpload - POST /api/sessions/{sessionId}/video
// 업로드 성공 시 분석 작업을 Redis 큐에 등록하고 202 반환
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		http.Error(w, "Invalid multipart upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		http.Error(w, "Missing video file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	mimeType := header.Header.Get("Content-Type")

	jobID, err := h.manager.Upload(sessionID, header.Filename, mimeType, data)
	if err != nil {
		switch {
		case errors.Is(err, ErrAnalysisInProgress):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, ErrUnsupportedMediaType):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	// Redis LPUSH - 워커가 BRPOP으로 받아서 처리
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if _, err := h.rdb.LPush(ctx, QueueKey, jobID).Result(); err != nil {
		log.Printf("❌ [Enqueue] Redis LPUSH failed: %v", err)
		h.manager.FailAnalysis(sessionID, "failed to queue analysis job")
		http.Error(w, "Failed to queue analysis job", http.StatusInternalServerError)
		return
	}

	queueLen, _ := h.rdb.LLen(ctx, QueueKey).Result()
	log.Printf("✅ [Enqueue] Job %s enqueued successfully (position: %d)", jobID, queueLen)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobId":         jobID,
		"status":        string(StateAnalyzing),
		"queuePosition": queueLen,
	})
}

// HandleGetSession - GET /api/sessions/{sessionId}
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	snap, ok := h.manager.Snapshot(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// HandleGetPrompts - GET /api/sessions/{sessionId}/prompts
func (h *Handler) HandleGetPrompts(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	prompts, ok := h.manager.Prompts(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"prompts": prompts,
	})
}

// EditJSONRequest - JSON 문서 수정 요청
type EditJSONRequest struct {
	Text string `json:"text"`
}

// HandleEditJSON - PUT /api/sessions/{sessionId}/json
func (h *Handler) HandleEditJSON(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	var req EditJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.manager.EditJSON(sessionID, req.Text); err != nil {
		writeSessionError(w, err)
		return
	}

	snap, _ := h.manager.Snapshot(sessionID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// SelectShotRequest - 장면 선택 요청
type SelectShotRequest struct {
	SceneID int `json:"sceneId"`
}

// HandleSelectShot - POST /api/sessions/{sessionId}/select
func (h *Handler) HandleSelectShot(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	var req SelectShotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	start, end, found, err := h.manager.SelectShot(sessionID, req.SceneID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sceneId": req.SceneID,
		"found":   found,
		"start":   start,
		"end":     end,
	})
}

// SetViewRequest - 서브 뷰 전환 요청
type SetViewRequest struct {
	View View `json:"view"`
}

// HandleSetView - POST /api/sessions/{sessionId}/view
func (h *Handler) HandleSetView(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	var req SetViewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.manager.SetView(sessionID, req.View); err != nil {
		writeSessionError(w, err)
		return
	}

	snap, _ := h.manager.Snapshot(sessionID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// HandleDownload - GET /api/sessions/{sessionId}/download
// 현재 (수정됐을 수도 있는) 텍스트 그대로, 재검증 없이 내보냄
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	filename, content, err := h.manager.DownloadInfo(sessionID)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	io.WriteString(w, content)
}

// HandleClipboardJSON - GET /api/sessions/{sessionId}/clipboard/json
// 클립보드 복사용 plain text (OS 클립보드 쓰기는 클라이언트 몫)
func (h *Handler) HandleClipboardJSON(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	snap, ok := h.manager.Snapshot(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	if snap.JSONText == "" {
		http.Error(w, "No analysis to copy", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, snap.JSONText)
}

// HandleClipboardPrompt - GET /api/sessions/{sessionId}/clipboard/prompts/{sceneId}
func (h *Handler) HandleClipboardPrompt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["sessionId"]

	sceneID, err := strconv.Atoi(vars["sceneId"])
	if err != nil {
		http.Error(w, "Invalid scene id", http.StatusBadRequest)
		return
	}

	text, err := h.manager.PromptText(sessionID, sceneID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			http.Error(w, "Session not found", http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusNotFound)
		}
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, text)
}

// HandleReset - POST /api/sessions/{sessionId}/reset
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]

	h.manager.Reset(sessionID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"sessionId": sessionID,
		"state":     string(StateIdle),
	})
}

// writeSessionError - Manager 에러를 HTTP 상태로 매핑
func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, ErrNotReady):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
