package main

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"shotlist-server/modules/analysis"
	"shotlist-server/modules/common/config"
	redisClient "shotlist-server/modules/common/redis"
	"shotlist-server/modules/session"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 개발용 - 모든 origin 허용
		// 프로덕션에서는 특정 도메인만 허용하도록 수정
		return true
	},
}

// 연결된 클라이언트 정보
type Client struct {
	conn      *websocket.Conn
	sessionId string
	send      chan []byte
}

// Hub - 세션별 이벤트 구독자 관리
// 분석 진행/상태 이벤트를 구독 중인 클라이언트에게 push
type Hub struct {
	mutex            sync.RWMutex
	subscribers      map[string]map[*Client]bool
	totalConnections int
	startTime        time.Time
}

var hub = &Hub{
	subscribers: make(map[string]map[*Client]bool),
	startTime:   time.Now(),
}

// Publish - session.Notifier 구현
// Manager가 잠금을 쥔 채 호출하므로 여기서는 절대 Manager로 재진입하지 않음
func (h *Hub) Publish(sessionID string, event session.Event) {
	messageBytes, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.subscribers[sessionID] {
		select {
		case client.send <- messageBytes:
		default:
			// 밀린 클라이언트는 연결 정리
			close(client.send)
			delete(h.subscribers[sessionID], client)
		}
	}
}

// addClient - 클라이언트를 세션 구독에 추가
func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	if h.subscribers[client.sessionId] == nil {
		h.subscribers[client.sessionId] = make(map[*Client]bool)
	}
	h.subscribers[client.sessionId][client] = true
	h.totalConnections++
	count := len(h.subscribers[client.sessionId])
	h.mutex.Unlock()

	log.Printf("👤 Client subscribed to session %s (Subscribers: %d, Total Connections: %d)",
		client.sessionId, count, h.totalConnections)
}

// removeClient - 클라이언트 구독 해제
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if clients, ok := h.subscribers[client.sessionId]; ok {
		if _, exists := clients[client]; exists {
			close(client.send)
			delete(clients, client)
			log.Printf("👋 Client left session %s (Remaining: %d)", client.sessionId, len(clients))
		}
		if len(clients) == 0 {
			delete(h.subscribers, client.sessionId)
		}
	}
}

// subscriberCount - 현재 구독자 수
func (h *Hub) subscriberCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	total := 0
	for _, clients := range h.subscribers {
		total += len(clients)
	}
	return total
}

// WebSocket 핸들러
func handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// WebSocket 연결 업그레이드
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// URL 파라미터에서 세션 ID 추출
	sessionId := r.URL.Query().Get("session")
	if sessionId == "" {
		log.Printf("Missing session parameter")
		conn.Close()
		return
	}

	client := &Client{
		conn:      conn,
		sessionId: sessionId,
		send:      make(chan []byte, 256),
	}

	log.Printf("🔍 New WebSocket connection - Session: %s", sessionId)
	hub.addClient(client)

	// 고루틴으로 읽기/쓰기 처리
	go client.writePump()
	go client.readPump()
}

// 클라이언트로부터 메시지 읽기 (이벤트 스트림은 단방향 - 연결 종료 감지용)
func (c *Client) readPump() {
	defer func() {
		hub.removeClient(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

// 클라이언트로 메시지 쓰기
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// CORS 헤더 추가
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "shotlist-analysis",
	})
}

// 서버 메트릭 조회 엔드포인트
func getMetrics(manager *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics, activeSessions := manager.ServerMetrics()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"server": map[string]interface{}{
				"uptime":           time.Since(hub.startTime).String(),
				"startTime":        metrics.StartTime,
				"totalSessions":    metrics.TotalSessions,
				"activeSessions":   activeSessions,
				"totalUploads":     metrics.TotalUploads,
				"totalAnalyses":    metrics.TotalAnalyses,
				"totalFailures":    metrics.TotalFailures,
				"wsSubscribers":    hub.subscriberCount(),
				"totalConnections": hub.totalConnections,
			},
		})
	}
}

// 만료 세션 강제 정리 (관리자용)
func forceCleanupSessions(manager *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manager.CleanupExpiredSessions()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status": "Cleanup completed",
		})
	}
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// 세션 매니저 초기화 (WebSocket 허브가 이벤트 수신)
	manager := session.NewManager(cfg.UploadDir, hub)
	manager.StartCleanupRoutine()

	// Redis 연결
	rdb := redisClient.Connect(cfg)
	if rdb == nil {
		log.Fatal("❌ Failed to connect to Redis")
	}
	log.Println("✅ Redis connected successfully")

	// 분석 Worker 시작 (백그라운드)
	analyzer := analysis.NewService()
	go session.StartWorker(rdb, manager, analyzer)

	// 라우터 설정
	r := mux.NewRouter()

	// CORS 미들웨어 적용
	r.Use(enableCORS)

	// 라우트 설정
	r.HandleFunc("/", healthCheck).Methods("GET")
	r.HandleFunc("/health", healthCheck).Methods("GET")
	r.HandleFunc("/ws", handleWebSocket)
	r.HandleFunc("/metrics", getMetrics(manager)).Methods("GET")
	r.HandleFunc("/admin/cleanup", forceCleanupSessions(manager)).Methods("POST")

	sessionHandler := session.NewHandler(manager, rdb, cfg.MaxUploadBytes())
	sessionHandler.RegisterRoutes(r)

	log.Printf("🚀 Shotlist Analysis Server starting on port %s", cfg.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost:%s/ws", cfg.Port)
	log.Printf("❤️  Health check: http://localhost:%s/health", cfg.Port)
	log.Printf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)

	// 서버 시작
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
