package session

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"shotlist-server/modules/analysis"
	"shotlist-server/modules/shotprompt"
)

// Metrics - 서버 메트릭
type Metrics struct {
	TotalSessions int       `json:"totalSessions"`
	TotalUploads  int       `json:"totalUploads"`
	TotalAnalyses int       `json:"totalAnalyses"`
	TotalFailures int       `json:"totalFailures"`
	StartTime     time.Time `json:"startTime"`
}

// Manager - 세션 관리
// 모든 상태 전이는 mutex로 직렬화되고, 파생 뷰는 항상 현재 JSON 텍스트에서 재계산
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	jobs      map[string]*AnalysisJob
	uploadDir string
	notifier  Notifier
	metrics   Metrics
}

func NewManager(uploadDir string, notifier Notifier) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Manager{
		sessions:  make(map[string]*Session),
		jobs:      make(map[string]*AnalysisJob),
		uploadDir: uploadDir,
		notifier:  notifier,
		metrics:   Metrics{StartTime: time.Now()},
	}
}

// getOrCreateLocked - 세션 가져오기 또는 생성 (mu 잠금 상태에서 호출)
func (m *Manager) getOrCreateLocked(sessionID string) *Session {
	s, exists := m.sessions[sessionID]
	if !exists {
		now := time.Now()
		s = &Session{
			ID:           sessionID,
			State:        StateIdle,
			View:         ViewPrompts,
			CreatedAt:    now,
			LastActivity: now,
		}
		m.sessions[sessionID] = s
		m.metrics.TotalSessions++
		log.Printf("✅ Created new session: %s (Total: %d)", sessionID, m.metrics.TotalSessions)
	}
	s.LastActivity = time.Now()
	return s
}

// Upload - 영상 업로드, Idle/Ready/Error → Analyzing
// MIME 검증 실패는 원격 호출 없이 즉시 Error 상태
// Analyzing 중의 재업로드는 상태 변경 없이 거부
func (m *Manager) Upload(sessionID, fileName, mimeType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getOrCreateLocked(sessionID)

	if s.State == StateAnalyzing {
		return "", ErrAnalysisInProgress
	}

	if !strings.HasPrefix(mimeType, "video/") {
		s.State = StateError
		s.ErrorMessage = "Please upload a video file."
		m.publishState(s)
		return "", ErrUnsupportedMediaType
	}

	jobID := uuid.New().String()

	// 임시 영상 핸들 생성 (세션당 최대 1개 - 기존 핸들은 교체 전에 해제)
	videoPath := filepath.Join(m.uploadDir, "shotlist-upload-"+jobID+filepath.Ext(fileName))
	if err := os.WriteFile(videoPath, data, 0o600); err != nil {
		s.State = StateError
		s.ErrorMessage = "Failed to store uploaded video."
		m.publishState(s)
		return "", fmt.Errorf("failed to store uploaded video: %w", err)
	}
	m.releaseVideoLocked(s)

	s.FileName = fileName
	s.MimeType = mimeType
	s.VideoPath = videoPath
	s.JSONText = ""
	s.Prompts = nil
	s.SelectedSceneID = nil
	s.SelectionStart, s.SelectionEnd = 0, 0
	s.ErrorMessage = ""
	s.State = StateAnalyzing
	s.View = ViewPrompts

	m.jobs[jobID] = &AnalysisJob{
		JobID:     jobID,
		SessionID: sessionID,
		VideoPath: videoPath,
		MimeType:  mimeType,
		CreatedAt: time.Now(),
	}
	m.metrics.TotalUploads++

	log.Printf("📥 Session %s: uploaded %s (%d bytes, %s), job %s", sessionID, fileName, len(data), mimeType, jobID)
	m.publishState(s)
	return jobID, nil
}

// TakeJob - 워커가 큐에서 받은 jobID로 작업 데이터 조회 (1회성)
func (m *Manager) TakeJob(jobID string) (*AnalysisJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	delete(m.jobs, jobID)
	return job, true
}

// Progress - 분석 진행 상태 알림 (Analyzing 중에만)
func (m *Manager) Progress(sessionID, stage string) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	analyzing := ok && s.State == StateAnalyzing
	m.mu.RUnlock()

	if !analyzing {
		return
	}
	m.notifier.Publish(sessionID, Event{
		Type:      "progress",
		SessionID: sessionID,
		State:     StateAnalyzing,
		Stage:     stage,
	})
}

// CompleteAnalysis - Analyzing → Ready(Prompts)
// 텍스트가 JSON으로 파싱되지 않아도 Ready - raw 텍스트는 보여주고 프롬프트만 비움
func (m *Manager) CompleteAnalysis(sessionID, jsonText string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.State != StateAnalyzing {
		// 리셋된 세션의 늦은 결과는 버림
		log.Printf("⚠️  Session %s: dropping analysis result (state changed)", sessionID)
		return
	}

	s.JSONText = jsonText
	s.State = StateReady
	s.View = ViewPrompts
	s.LastActivity = time.Now()
	m.deriveViewsLocked(s)
	m.metrics.TotalAnalyses++

	log.Printf("✅ Session %s: analysis ready (%d prompts)", sessionID, len(s.Prompts))
	m.publishState(s)
}

// FailAnalysis - Analyzing → Error (메시지는 원문 그대로)
func (m *Manager) FailAnalysis(sessionID, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok || s.State != StateAnalyzing {
		log.Printf("⚠️  Session %s: dropping analysis failure (state changed)", sessionID)
		return
	}

	s.State = StateError
	s.ErrorMessage = message
	s.LastActivity = time.Now()
	m.metrics.TotalFailures++

	log.Printf("❌ Session %s: analysis failed: %s", sessionID, message)
	m.publishState(s)
}

// EditJSON - Ready 상태에서 문서 텍스트 교체, 파생 뷰 전체 재계산
func (m *Manager) EditJSON(sessionID, newText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.State != StateReady {
		return ErrNotReady
	}

	s.JSONText = newText
	s.LastActivity = time.Now()
	m.deriveViewsLocked(s)

	// 기존 선택이 새 텍스트에서 더 이상 위치를 찾지 못하면 하이라이트 해제
	if s.SelectedSceneID != nil {
		start, end, found := shotprompt.Locate(s.JSONText, *s.SelectedSceneID)
		if found {
			s.SelectionStart, s.SelectionEnd = start, end
		} else {
			s.SelectedSceneID = nil
			s.SelectionStart, s.SelectionEnd = 0, 0
		}
	}

	m.publishState(s)
	return nil
}

// SelectShot - 장면 선택, 위치를 찾으면 RawJson 뷰로 전환하고 구간 표시
func (m *Manager) SelectShot(sessionID string, sceneID int) (start, end int, found bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return 0, 0, false, ErrSessionNotFound
	}
	if s.State != StateReady {
		return 0, 0, false, ErrNotReady
	}

	s.SelectedSceneID = &sceneID
	s.LastActivity = time.Now()

	start, end, found = shotprompt.Locate(s.JSONText, sceneID)
	if found {
		s.View = ViewRawJSON
		s.SelectionStart, s.SelectionEnd = start, end
	} else {
		// 하이라이트 없음 - 에러 아님
		s.SelectionStart, s.SelectionEnd = 0, 0
	}

	m.publishState(s)
	return start, end, found, nil
}

// SetView - Prompts | RawJson 서브 뷰 전환
func (m *Manager) SetView(sessionID string, view View) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if s.State != StateReady {
		return ErrNotReady
	}
	if view != ViewPrompts && view != ViewRawJSON {
		return fmt.Errorf("unknown view: %s", view)
	}

	s.View = view
	s.LastActivity = time.Now()
	m.publishState(s)
	return nil
}

// Reset - 어느 상태에서든 → Idle, 영상 핸들 해제
func (m *Manager) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}

	m.releaseVideoLocked(s)
	s.FileName = ""
	s.MimeType = ""
	s.JSONText = ""
	s.Prompts = nil
	s.SelectedSceneID = nil
	s.SelectionStart, s.SelectionEnd = 0, 0
	s.ErrorMessage = ""
	s.State = StateIdle
	s.View = ViewPrompts
	s.LastActivity = time.Now()

	log.Printf("🧹 Session %s: reset to idle", sessionID)
	m.publishState(s)
}

// Snapshot - 세션 상태 조회
func (m *Manager) Snapshot(sessionID string) (*Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	snap := &Snapshot{
		SessionID:       s.ID,
		State:           s.State,
		View:            s.View,
		FileName:        s.FileName,
		MimeType:        s.MimeType,
		HasVideo:        s.VideoPath != "",
		JSONText:        s.JSONText,
		PromptCount:     len(s.Prompts),
		SelectedSceneID: s.SelectedSceneID,
		SelectionStart:  s.SelectionStart,
		SelectionEnd:    s.SelectionEnd,
		Error:           s.ErrorMessage,
	}
	return snap, true
}

// Prompts - 파생된 샷 프롬프트 리스트 (복사본)
func (m *Manager) Prompts(sessionID string) ([]shotprompt.ShotPrompt, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	prompts := make([]shotprompt.ShotPrompt, len(s.Prompts))
	copy(prompts, s.Prompts)
	return prompts, true
}

// PromptText - 클립보드 복사용 단일 프롬프트 텍스트 (첫 번째 일치)
func (m *Manager) PromptText(sessionID string, sceneID int) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	for _, p := range s.Prompts {
		if p.ID == sceneID {
			return p.Prompt, nil
		}
	}
	return "", fmt.Errorf("no prompt for scene %d", sceneID)
}

// DownloadInfo - 현재 텍스트 그대로 내보내기 (재검증 없음)
func (m *Manager) DownloadInfo(sessionID string) (filename, content string, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return "", "", ErrSessionNotFound
	}
	if s.JSONText == "" {
		return "", "", ErrNotReady
	}

	stem := strings.TrimSuffix(s.FileName, filepath.Ext(s.FileName))
	if stem == "" {
		stem = "video"
	}
	return stem + "_analysis.json", s.JSONText, nil
}

// ServerMetrics - /metrics 응답용
func (m *Manager) ServerMetrics() (Metrics, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics, len(m.sessions)
}

// deriveViewsLocked - 현재 JSON 텍스트에서 프롬프트 리스트 재계산
// 파싱 실패는 빈 리스트로 강등, 에러 전파 없음
func (m *Manager) deriveViewsLocked(s *Session) {
	parsed, err := analysis.Parse(s.JSONText)
	if err != nil {
		s.Prompts = []shotprompt.ShotPrompt{}
		return
	}
	s.Prompts = shotprompt.Synthesize(parsed)
}

// releaseVideoLocked - 영상 핸들 해제
func (m *Manager) releaseVideoLocked(s *Session) {
	if s.VideoPath == "" {
		return
	}
	if err := os.Remove(s.VideoPath); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️  Session %s: failed to remove video file %s: %v", s.ID, s.VideoPath, err)
	}
	s.VideoPath = ""
}

// publishState - 상태 이벤트 발행 (mu 잠금 상태에서 호출해도 안전해야 함)
func (m *Manager) publishState(s *Session) {
	m.notifier.Publish(s.ID, Event{
		Type:        "state",
		SessionID:   s.ID,
		State:       s.State,
		PromptCount: len(s.Prompts),
		Error:       s.ErrorMessage,
	})
}

// CleanupExpiredSessions - 만료된 세션 정리 (영상 핸들 해제 포함)
func (m *Manager) CleanupExpiredSessions() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	inactiveThreshold := 2 * time.Hour

	cleaned := 0
	for sessionID, s := range m.sessions {
		if now.Sub(s.LastActivity) > inactiveThreshold && s.State != StateAnalyzing {
			m.releaseVideoLocked(s)
			delete(m.sessions, sessionID)
			cleaned++
			log.Printf("⏰ Cleaned up inactive session: %s (Inactive: %v)", sessionID, now.Sub(s.LastActivity))
		}
	}

	if cleaned > 0 {
		log.Printf("🧼 Cleaned up %d inactive sessions (Active: %d)", cleaned, len(m.sessions))
	}
}

// StartCleanupRoutine - 정기적 정리 작업 시작
func (m *Manager) StartCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			m.CleanupExpiredSessions()
		}
	}()

	log.Printf("🔄 Started session cleanup routine (every 30min)")
}
