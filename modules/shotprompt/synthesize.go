package shotprompt

import (
	"fmt"
	"strings"

	"shotlist-server/modules/analysis"
)

// ShotPrompt - 한 장면에서 파생된 영상 생성용 프롬프트
// 항상 현재 JSON 문서에서 재계산되는 일회성 프로젝션
type ShotPrompt struct {
	ID        int             `json:"id"`
	Timestamp string          `json:"timestamp"`
	Prompt    string          `json:"prompt"`
	Scene     *analysis.Scene `json:"scene"`
}

// FormatTimestamp - 초를 "M:SS" 형식으로 변환 (소수점은 버림, 반올림 아님)
func FormatTimestamp(seconds float64) string {
	mins := int(seconds / 60)
	secs := int(seconds) % 60
	return fmt.Sprintf("%d:%02d", mins, secs)
}

// Synthesize - 분석 결과를 장면 순서 그대로 프롬프트 리스트로 변환
// 순수 함수: 정렬/병합/중복 제거 없음, 빈 배열에도 실패하지 않음
func Synthesize(a *analysis.VideoAnalysis) []ShotPrompt {
	if a == nil {
		return []ShotPrompt{}
	}

	prompts := make([]ShotPrompt, 0, len(a.Scenes))
	for i := range a.Scenes {
		scene := &a.Scenes[i]

		var sb strings.Builder
		sb.WriteString("Cinematic shot: ")
		sb.WriteString(scene.Description)
		sb.WriteString(".")

		if len(scene.Dialogue) > 0 {
			lines := make([]string, 0, len(scene.Dialogue))
			for _, d := range scene.Dialogue {
				lines = append(lines, d.Speaker+": \""+d.Line+"\"")
			}
			sb.WriteString(" Dialogue: ")
			sb.WriteString(strings.Join(lines, " "))
			sb.WriteString(".")
		}

		sb.WriteString(" Prominent objects: ")
		sb.WriteString(strings.Join(scene.Objects, ", "))
		sb.WriteString(".")

		sb.WriteString(" Actions: ")
		sb.WriteString(strings.Join(scene.Actions, ", "))
		sb.WriteString(".")

		prompts = append(prompts, ShotPrompt{
			ID:        scene.SceneID,
			Timestamp: FormatTimestamp(scene.TimestampStartSeconds) + " - " + FormatTimestamp(scene.TimestampEndSeconds),
			Prompt:    sb.String(),
			Scene:     scene,
		})
	}

	return prompts
}
