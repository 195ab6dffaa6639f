package session

import (
	"errors"
	"time"

	"shotlist-server/modules/shotprompt"
)

// State - 세션 라이프사이클 상태
type State string

const (
	StateIdle      State = "idle"      // 파일 없음
	StateAnalyzing State = "analyzing" // 분석 요청 진행 중
	StateReady     State = "ready"     // JSON 문서 사용 가능
	StateError     State = "error"     // 리셋 전까지 유지
)

// View - Ready 상태의 두 가지 서브 뷰
type View string

const (
	ViewPrompts View = "prompts"
	ViewRawJSON View = "raw_json"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrAnalysisInProgress   = errors.New("analysis already in progress")
	ErrUnsupportedMediaType = errors.New("only video files can be analyzed")
	ErrNotReady             = errors.New("session has no analysis result")
)

// Session - 한 사용자의 분석 세션
// 영상 핸들(temp 파일)은 세션당 최대 1개, 교체/리셋 시 해제
type Session struct {
	ID    string
	State State
	View  View

	// 업로드된 영상
	FileName  string
	MimeType  string
	VideoPath string

	// 분석 문서와 파생 뷰
	JSONText string
	Prompts  []shotprompt.ShotPrompt

	// 선택된 장면 하이라이트
	SelectedSceneID *int
	SelectionStart  int
	SelectionEnd    int

	ErrorMessage string

	CreatedAt    time.Time
	LastActivity time.Time
}

// Snapshot - API 응답용 읽기 전용 상태
type Snapshot struct {
	SessionID       string `json:"sessionId"`
	State           State  `json:"state"`
	View            View   `json:"view"`
	FileName        string `json:"fileName,omitempty"`
	MimeType        string `json:"mimeType,omitempty"`
	HasVideo        bool   `json:"hasVideo"`
	JSONText        string `json:"jsonText,omitempty"`
	PromptCount     int    `json:"promptCount"`
	SelectedSceneID *int   `json:"selectedSceneId,omitempty"`
	SelectionStart  int    `json:"selectionStart"`
	SelectionEnd    int    `json:"selectionEnd"`
	Error           string `json:"error,omitempty"`
}

// Event - WebSocket으로 내보내는 세션 이벤트
type Event struct {
	Type        string `json:"type"` // "state" | "progress"
	SessionID   string `json:"sessionId"`
	State       State  `json:"state,omitempty"`
	Stage       string `json:"stage,omitempty"`
	PromptCount int    `json:"promptCount,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Notifier - 세션 이벤트 발행 인터페이스 (WebSocket 허브가 구현)
type Notifier interface {
	Publish(sessionID string, event Event)
}

// NopNotifier - 이벤트를 버리는 Notifier (테스트용)
type NopNotifier struct{}

func (NopNotifier) Publish(string, Event) {}

// AnalysisJob - 큐에 들어간 분석 작업
// Redis에는 jobID만 실리고 작업 데이터는 메모리에 유지
type AnalysisJob struct {
	JobID     string
	SessionID string
	VideoPath string
	MimeType  string
	CreatedAt time.Time
}
