package analysis

import (
	"context"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"
	"shotlist-server/modules/common/config"
	"shotlist-server/modules/common/gemini"
)

// Progress 단계 (클라이언트 상태 표시용 알림, 취소 불가)
const (
	StageSending = "sending" // 요청 전송 직전
	StageWaiting = "waiting" // 응답 대기 중
)

// ProgressFunc - 진행 상태 콜백 (fire-and-forget)
type ProgressFunc func(stage string)

type Service struct {
	apiKey string
	model  string
}

func NewService() *Service {
	cfg := config.GetConfig()
	return &Service{
		apiKey: cfg.GeminiAPIKey,
		model:  cfg.GeminiModel,
	}
}

// NewServiceWithKey - 명시적 키 주입 (테스트용)
func NewServiceWithKey(apiKey, model string) *Service {
	return &Service{apiKey: apiKey, model: model}
}

// Analyze - 영상을 Gemini로 분석하고 pretty-printed JSON 텍스트 반환
// 재시도 없음, 응답 텍스트가 JSON이 아니면 원본 그대로 반환
func (s *Service) Analyze(ctx context.Context, videoBytes []byte, mimeType string, progress ProgressFunc) (string, error) {
	if progress == nil {
		progress = func(string) {}
	}

	// 키 검증 - 네트워크 시도 전에 실패
	if s.apiKey == "" {
		return "", fmt.Errorf("no Gemini API key configured")
	}

	client, err := gemini.NewClient(ctx, s.apiKey)
	if err != nil {
		return "", err
	}

	log.Printf("🎬 Calling Gemini API (model: %s) with %d video bytes (%s)", s.model, len(videoBytes), mimeType)
	progress(StageSending)

	// Content 생성 - 영상 바이트 + 고정 지시 프롬프트
	content := &genai.Content{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{
				InlineData: &genai.Blob{
					MIMEType: mimeType,
					Data:     videoBytes,
				},
			},
			genai.NewPartFromText(AnalysisInstruction),
		},
	}

	progress(StageWaiting)
	result, err := client.Models.GenerateContent(
		ctx,
		s.model,
		[]*genai.Content{content},
		&genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   ResponseSchema(),
		},
	)
	if err != nil {
		if gemini.IsRateLimitError(err) {
			log.Printf("⚠️  Gemini rate limit hit: %v", err)
		}
		return "", err
	}

	// 응답 텍스트 추출
	text, err := extractText(result)
	if err != nil {
		return "", err
	}

	log.Printf("✅ Received analysis from Gemini: %d chars", len(text))
	return PrettyJSON(text), nil
}

// extractText - 응답 candidates에서 텍스트 파트 수집
func extractText(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	var sb strings.Builder
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				sb.WriteString(part.Text)
			}
		}
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("no text data in response")
	}
	return sb.String(), nil
}
