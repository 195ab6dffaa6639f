package analysis

import (
	"bytes"
	"encoding/json"
)

// DialogueLine - 한 명의 화자가 말한 한 줄의 대사
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Line    string `json:"line"`
}

// Scene - 분석 결과의 한 장면 (최대 8초)
type Scene struct {
	SceneID               int            `json:"scene_id"`
	TimestampStartSeconds float64        `json:"timestamp_start_seconds"`
	TimestampEndSeconds   float64        `json:"timestamp_end_seconds"`
	Description           string         `json:"description"`
	Objects               []string       `json:"objects"`
	Actions               []string       `json:"actions"`
	Dialogue              []DialogueLine `json:"dialogue,omitempty"`
}

// VideoAnalysis - 영상 전체 분석 결과 (JSON 문서의 루트)
type VideoAnalysis struct {
	Title   string  `json:"title"`
	Summary string  `json:"summary"`
	Scenes  []Scene `json:"scenes"`
}

// Parse - JSON 텍스트를 VideoAnalysis로 파싱
func Parse(text string) (*VideoAnalysis, error) {
	var result VideoAnalysis
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PrettyJSON - 2-space 들여쓰기로 재정렬, JSON이 아니면 원본 그대로 반환
func PrettyJSON(text string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(text), "", "  "); err != nil {
		return text
	}
	return buf.String()
}
