package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"shotlist-server/modules/analysis"
)

// recordingNotifier - 발행된 이벤트 기록 (테스트용)
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Publish(sessionID string, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) stages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var stages []string
	for _, e := range n.events {
		if e.Type == "progress" {
			stages = append(stages, e.Stage)
		}
	}
	return stages
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), NopNotifier{})
}

func twoSceneJSON(t *testing.T) string {
	t.Helper()
	raw, err := json.Marshal(&analysis.VideoAnalysis{
		Title:   "10 second clip",
		Summary: "two scenes",
		Scenes: []analysis.Scene{
			{SceneID: 1, TimestampStartSeconds: 0, TimestampEndSeconds: 8, Description: "opening", Objects: []string{"door"}, Actions: []string{"walking"}},
			{SceneID: 2, TimestampStartSeconds: 8, TimestampEndSeconds: 10, Description: "closing", Objects: []string{"window"}, Actions: []string{"waving"}},
		},
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return analysis.PrettyJSON(string(raw))
}

func TestUpload_InvalidMimeType(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Upload("s1", "notes.txt", "text/plain", []byte("hello"))
	if !errors.Is(err, ErrUnsupportedMediaType) {
		t.Fatalf("expected ErrUnsupportedMediaType, got %v", err)
	}

	// 원격 호출 없이 즉시 Error 상태
	snap, _ := m.Snapshot("s1")
	if snap.State != StateError {
		t.Errorf("state = %s, want error", snap.State)
	}
	if snap.HasVideo {
		t.Error("invalid upload must not acquire a video handle")
	}
}

func TestUpload_TransitionsToAnalyzing(t *testing.T) {
	m := newTestManager(t)

	jobID, err := m.Upload("s1", "clip.mp4", "video/mp4", []byte("fake video bytes"))
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	snap, _ := m.Snapshot("s1")
	if snap.State != StateAnalyzing {
		t.Errorf("state = %s, want analyzing", snap.State)
	}
	if !snap.HasVideo {
		t.Error("expected a video handle after upload")
	}

	job, ok := m.TakeJob(jobID)
	if !ok {
		t.Fatal("job not registered")
	}
	if job.SessionID != "s1" || job.MimeType != "video/mp4" {
		t.Errorf("job fields mismatch: %+v", job)
	}
	data, err := os.ReadFile(job.VideoPath)
	if err != nil {
		t.Fatalf("video file unreadable: %v", err)
	}
	if string(data) != "fake video bytes" {
		t.Error("stored video bytes differ from upload")
	}
}

func TestUpload_RejectedWhileAnalyzing(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.Upload("s1", "a.mp4", "video/mp4", []byte("a")); err != nil {
		t.Fatalf("first upload failed: %v", err)
	}
	if _, err := m.Upload("s1", "b.mp4", "video/mp4", []byte("b")); !errors.Is(err, ErrAnalysisInProgress) {
		t.Fatalf("expected ErrAnalysisInProgress, got %v", err)
	}

	// 거부된 업로드는 상태를 바꾸지 않음
	snap, _ := m.Snapshot("s1")
	if snap.State != StateAnalyzing {
		t.Errorf("state = %s, want analyzing", snap.State)
	}
}

func TestUpload_ReplacesPreviousHandle(t *testing.T) {
	m := newTestManager(t)

	jobID, _ := m.Upload("s1", "a.mp4", "video/mp4", []byte("first"))
	first, _ := m.TakeJob(jobID)
	m.CompleteAnalysis("s1", twoSceneJSON(t))

	if _, err := m.Upload("s1", "b.mp4", "video/mp4", []byte("second")); err != nil {
		t.Fatalf("replacement upload failed: %v", err)
	}

	// 핸들은 세션당 최대 1개 - 이전 파일은 해제됨
	if _, err := os.Stat(first.VideoPath); !os.IsNotExist(err) {
		t.Errorf("previous video handle not released: %v", err)
	}
}

func TestCompleteAnalysis_Ready(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))

	m.CompleteAnalysis("s1", twoSceneJSON(t))

	snap, _ := m.Snapshot("s1")
	if snap.State != StateReady || snap.View != ViewPrompts {
		t.Fatalf("state/view = %s/%s, want ready/prompts", snap.State, snap.View)
	}
	if snap.PromptCount != 2 {
		t.Errorf("prompt count = %d, want 2", snap.PromptCount)
	}

	prompts, _ := m.Prompts("s1")
	if prompts[0].Timestamp != "0:00 - 0:08" || prompts[1].Timestamp != "0:08 - 0:10" {
		t.Errorf("timestamps = %q, %q", prompts[0].Timestamp, prompts[1].Timestamp)
	}
}

func TestCompleteAnalysis_MalformedOutputStillReady(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))

	// 파싱 불가 텍스트도 하드 에러가 아님 - raw 텍스트는 그대로 보여줌
	m.CompleteAnalysis("s1", "I could not produce JSON, sorry")

	snap, _ := m.Snapshot("s1")
	if snap.State != StateReady {
		t.Fatalf("state = %s, want ready", snap.State)
	}
	if snap.PromptCount != 0 {
		t.Errorf("prompt count = %d, want 0", snap.PromptCount)
	}
	if snap.JSONText != "I could not produce JSON, sorry" {
		t.Errorf("raw text not preserved: %q", snap.JSONText)
	}
}

func TestFailAnalysis_RateLimitedThenReset(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))

	m.FailAnalysis("s1", "rate limited")

	snap, _ := m.Snapshot("s1")
	if snap.State != StateError {
		t.Fatalf("state = %s, want error", snap.State)
	}
	if snap.Error != "rate limited" {
		t.Errorf("error message = %q, want verbatim %q", snap.Error, "rate limited")
	}

	m.Reset("s1")
	snap, _ = m.Snapshot("s1")
	if snap.State != StateIdle {
		t.Fatalf("state after reset = %s, want idle", snap.State)
	}
	if snap.HasVideo {
		t.Error("reset must release the video handle")
	}
	if snap.Error != "" || snap.PromptCount != 0 || snap.JSONText != "" {
		t.Errorf("reset left residual state: %+v", snap)
	}
}

func TestEditJSON_RecomputesPrompts(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))
	m.CompleteAnalysis("s1", twoSceneJSON(t))

	// 깨진 편집 → 빈 리스트, throw 없음
	if err := m.EditJSON("s1", "{ broken"); err != nil {
		t.Fatalf("EditJSON failed: %v", err)
	}
	snap, _ := m.Snapshot("s1")
	if snap.State != StateReady || snap.PromptCount != 0 {
		t.Errorf("state/count after broken edit = %s/%d", snap.State, snap.PromptCount)
	}

	// 복구 편집 → 리스트 재파생
	if err := m.EditJSON("s1", twoSceneJSON(t)); err != nil {
		t.Fatalf("EditJSON failed: %v", err)
	}
	snap, _ = m.Snapshot("s1")
	if snap.PromptCount != 2 {
		t.Errorf("prompt count after restoring edit = %d, want 2", snap.PromptCount)
	}
}

func TestEditJSON_RequiresReady(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))

	if err := m.EditJSON("s1", "{}"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady during analyzing, got %v", err)
	}
	if err := m.EditJSON("missing", "{}"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSelectShot_SwitchesToRawJSON(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))
	text := twoSceneJSON(t)
	m.CompleteAnalysis("s1", text)

	start, end, found, err := m.SelectShot("s1", 2)
	if err != nil || !found {
		t.Fatalf("SelectShot = found=%v err=%v", found, err)
	}
	if !strings.Contains(text[start:end], `"scene_id": 2`) {
		t.Errorf("selection span %q misses the declaration", text[start:end])
	}

	snap, _ := m.Snapshot("s1")
	if snap.View != ViewRawJSON {
		t.Errorf("view = %s, want raw_json after a located selection", snap.View)
	}
	if snap.SelectedSceneID == nil || *snap.SelectedSceneID != 2 {
		t.Errorf("selected scene id not recorded: %+v", snap.SelectedSceneID)
	}
}

func TestSelectShot_MissIsNoHighlight(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))
	m.CompleteAnalysis("s1", twoSceneJSON(t))

	_, _, found, err := m.SelectShot("s1", 99)
	if err != nil {
		t.Fatalf("a locator miss must not be an error: %v", err)
	}
	if found {
		t.Fatal("expected miss for absent scene id")
	}

	// 못 찾으면 뷰 전환 없음
	snap, _ := m.Snapshot("s1")
	if snap.View != ViewPrompts {
		t.Errorf("view = %s, want prompts after a miss", snap.View)
	}
}

func TestEditJSON_ClearsStaleSelection(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))
	m.CompleteAnalysis("s1", twoSceneJSON(t))
	m.SelectShot("s1", 2)

	// scene 2가 사라진 텍스트로 편집 → 하이라이트 해제
	raw, _ := json.Marshal(&analysis.VideoAnalysis{
		Scenes: []analysis.Scene{{SceneID: 1, Objects: []string{}, Actions: []string{}}},
	})
	m.EditJSON("s1", analysis.PrettyJSON(string(raw)))

	snap, _ := m.Snapshot("s1")
	if snap.SelectedSceneID != nil {
		t.Errorf("stale selection not cleared: %v", *snap.SelectedSceneID)
	}
	if snap.SelectionStart != 0 || snap.SelectionEnd != 0 {
		t.Errorf("stale span not cleared: %d-%d", snap.SelectionStart, snap.SelectionEnd)
	}
}

func TestSetView(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))
	m.CompleteAnalysis("s1", twoSceneJSON(t))

	if err := m.SetView("s1", ViewRawJSON); err != nil {
		t.Fatalf("SetView failed: %v", err)
	}
	snap, _ := m.Snapshot("s1")
	if snap.View != ViewRawJSON {
		t.Errorf("view = %s", snap.View)
	}

	if err := m.SetView("s1", View("split")); err == nil {
		t.Error("expected error for unknown view")
	}
}

func TestLateResultAfterResetIsDropped(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))
	m.Reset("s1")

	// 리셋 후 도착한 결과/실패는 무시
	m.CompleteAnalysis("s1", twoSceneJSON(t))
	m.FailAnalysis("s1", "too late")

	snap, _ := m.Snapshot("s1")
	if snap.State != StateIdle || snap.PromptCount != 0 || snap.Error != "" {
		t.Errorf("late result leaked into reset session: %+v", snap)
	}
}

func TestDownloadInfo(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "my holiday.mp4", "video/mp4", []byte("v"))
	text := twoSceneJSON(t)
	m.CompleteAnalysis("s1", text)

	filename, content, err := m.DownloadInfo("s1")
	if err != nil {
		t.Fatalf("DownloadInfo failed: %v", err)
	}
	if filename != "my holiday_analysis.json" {
		t.Errorf("filename = %q", filename)
	}
	if content != text {
		t.Error("exported content must be the exact current text")
	}

	// 손으로 수정한 텍스트도 재검증 없이 그대로 내보냄
	m.EditJSON("s1", "{ not json")
	_, content, _ = m.DownloadInfo("s1")
	if content != "{ not json" {
		t.Errorf("edited content not exported verbatim: %q", content)
	}
}

func TestPromptText(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))
	m.CompleteAnalysis("s1", twoSceneJSON(t))

	text, err := m.PromptText("s1", 1)
	if err != nil {
		t.Fatalf("PromptText failed: %v", err)
	}
	if !strings.HasPrefix(text, "Cinematic shot: opening.") {
		t.Errorf("prompt text mismatch: %q", text)
	}

	if _, err := m.PromptText("s1", 42); err == nil {
		t.Error("expected error for unknown scene")
	}
}

func TestCleanupExpiredSessions_SkipsAnalyzing(t *testing.T) {
	m := newTestManager(t)
	m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))

	// 방금 활동한 세션과 분석 중 세션은 정리 대상이 아님
	m.CleanupExpiredSessions()
	if _, ok := m.Snapshot("s1"); !ok {
		t.Fatal("active session must survive cleanup")
	}
}

// fakeAnalyzer - 원격 호출 대체 (워커 테스트용)
type fakeAnalyzer struct {
	result string
	err    error
	stages []string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, videoBytes []byte, mimeType string, progress analysis.ProgressFunc) (string, error) {
	for _, s := range f.stages {
		progress(s)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

func TestProcessJob_Success(t *testing.T) {
	notifier := &recordingNotifier{}
	m := NewManager(t.TempDir(), notifier)
	jobID, _ := m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))

	fake := &fakeAnalyzer{
		result: twoSceneJSON(t),
		stages: []string{analysis.StageSending, analysis.StageWaiting},
	}
	processJob(context.Background(), m, fake, jobID)

	snap, _ := m.Snapshot("s1")
	if snap.State != StateReady || snap.PromptCount != 2 {
		t.Fatalf("state/count = %s/%d, want ready/2", snap.State, snap.PromptCount)
	}

	// 최소 두 개의 진행 마일스톤이 구독자에게 전달됨
	stages := notifier.stages()
	if len(stages) < 2 || stages[0] != analysis.StageSending || stages[1] != analysis.StageWaiting {
		t.Errorf("progress milestones = %v", stages)
	}
}

func TestProcessJob_RemoteErrorVerbatim(t *testing.T) {
	m := newTestManager(t)
	jobID, _ := m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))

	processJob(context.Background(), m, &fakeAnalyzer{err: errors.New("rate limited")}, jobID)

	snap, _ := m.Snapshot("s1")
	if snap.State != StateError || snap.Error != "rate limited" {
		t.Fatalf("state/error = %s/%q", snap.State, snap.Error)
	}
}

func TestProcessJob_UnknownJob(t *testing.T) {
	m := newTestManager(t)
	jobID, _ := m.Upload("s1", "clip.mp4", "video/mp4", []byte("v"))
	m.Reset("s1")

	// 리셋으로 파일이 사라진 작업 - 상태는 idle 그대로
	processJob(context.Background(), m, &fakeAnalyzer{result: "{}"}, jobID)

	snap, _ := m.Snapshot("s1")
	if snap.State != StateIdle {
		t.Errorf("state = %s, want idle", snap.State)
	}
}
