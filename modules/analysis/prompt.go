package analysis

import "google.golang.org/genai"

// AnalysisInstruction - Gemini에 전달하는 고정 지시 프롬프트
const AnalysisInstruction = `[VIDEO SCENE BREAKDOWN]
You are a film editor breaking a video down into a structured shot list.

Analyze the attached video scene by scene and return the structured result.

Rules:
- Each scene covers at most 8 seconds. Split a longer continuous action across multiple scenes.
- Give every scene a precise start and end timestamp in seconds from the beginning of the video.
- Describe each scene visually: setting, subjects, framing, movement.
- List the prominent objects visible in the scene.
- List the actions taking place in the scene.
- Transcribe any spoken dialogue and attribute each line to its speaker.
  Use generic labels ("Person 1", "Person 2", ...) unless a name is stated explicitly.

Return only the structured analysis, nothing else.`

// ResponseSchema - 응답 JSON 강제 스키마
func ResponseSchema() *genai.Schema {
	dialogueLine := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"speaker": {Type: genai.TypeString},
			"line":    {Type: genai.TypeString},
		},
		Required: []string{"speaker", "line"},
	}

	scene := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"scene_id":                {Type: genai.TypeInteger},
			"timestamp_start_seconds": {Type: genai.TypeNumber},
			"timestamp_end_seconds":   {Type: genai.TypeNumber},
			"description":             {Type: genai.TypeString},
			"objects": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"actions": {
				Type:  genai.TypeArray,
				Items: &genai.Schema{Type: genai.TypeString},
			},
			"dialogue": {
				Type:  genai.TypeArray,
				Items: dialogueLine,
			},
		},
		Required: []string{
			"scene_id",
			"timestamp_start_seconds",
			"timestamp_end_seconds",
			"description",
			"objects",
			"actions",
		},
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":   {Type: genai.TypeString},
			"summary": {Type: genai.TypeString},
			"scenes": {
				Type:  genai.TypeArray,
				Items: scene,
			},
		},
		Required: []string{"title", "summary", "scenes"},
	}
}
