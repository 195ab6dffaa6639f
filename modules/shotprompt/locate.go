package shotprompt

import (
	"fmt"
	"strings"
)

// Locate - pretty-printed JSON 텍스트에서 장면 선언 위치를 찾음
// 2-space 들여쓰기 + 콜론 뒤 공백 형식에 결합된 단순 substring 탐색
// (형식이 깨져 있으면 ok=false, 하이라이트 없음으로 처리)
func Locate(jsonText string, sceneID int) (start, end int, ok bool) {
	needle := fmt.Sprintf("\"scene_id\": %d", sceneID)

	idx := strings.Index(jsonText, needle)
	if idx < 0 {
		return 0, 0, false
	}

	nl := strings.IndexByte(jsonText[idx:], '\n')
	if nl < 0 {
		return idx, len(jsonText), true
	}
	return idx, idx + nl, true
}
