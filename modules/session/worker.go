package session

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"shotlist-server/modules/analysis"
)

// QueueKey - 분석 작업 큐
const QueueKey = "analysis:queue"

// Analyzer - 원격 분석 호출 (analysis.Service가 구현)
type Analyzer interface {
	Analyze(ctx context.Context, videoBytes []byte, mimeType string, progress analysis.ProgressFunc) (string, error)
}

// StartWorker - Redis Queue Worker 시작
func StartWorker(rdb *redis.Client, manager *Manager, analyzer Analyzer) {
	log.Println("🔄 Analysis Queue Worker starting...")
	log.Printf("👀 Watching queue: %s", QueueKey)

	ctx := context.Background()

	// 무한 루프로 Queue 감시
	for {
		// Job 받기 (BRPOP - Blocking Right Pop)
		result, err := rdb.BRPop(ctx, 0, QueueKey).Result()
		if err != nil {
			log.Printf("❌ Redis BRPOP error: %v", err)
			time.Sleep(5 * time.Second)
			continue
		}

		// result[0]은 큐 이름, result[1]이 실제 job_id
		jobID := result[1]
		log.Printf("🎯 Received new analysis job: %s", jobID)

		go processJob(ctx, manager, analyzer, jobID)
	}
}

// processJob - 분석 작업 처리
// 원격 호출은 세션당 1개 (상태 머신이 중복 업로드를 거부), 재시도 없음
func processJob(ctx context.Context, manager *Manager, analyzer Analyzer, jobID string) {
	job, ok := manager.TakeJob(jobID)
	if !ok {
		log.Printf("⚠️  Unknown analysis job: %s (session reset or duplicate delivery)", jobID)
		return
	}

	log.Printf("🚀 Processing job %s for session %s", job.JobID, job.SessionID)

	videoBytes, err := os.ReadFile(job.VideoPath)
	if err != nil {
		log.Printf("❌ Job %s: failed to read video file: %v", job.JobID, err)
		manager.FailAnalysis(job.SessionID, "failed to read uploaded video")
		return
	}

	jsonText, err := analyzer.Analyze(ctx, videoBytes, job.MimeType, func(stage string) {
		manager.Progress(job.SessionID, stage)
	})
	if err != nil {
		// 원격 에러 메시지는 그대로 사용자에게 노출
		manager.FailAnalysis(job.SessionID, err.Error())
		return
	}

	manager.CompleteAnalysis(job.SessionID, jsonText)
	log.Printf("✅ Job %s completed for session %s", job.JobID, job.SessionID)
}
