package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/match-replay/internal/auth"
	"github.com/annel0/match-replay/internal/catalog"
	"github.com/annel0/match-replay/internal/client"
	"github.com/annel0/match-replay/internal/logging"
	"github.com/annel0/match-replay/internal/middleware"
)

// Server HTTP-слой сервиса: апгрейд websocket-соединений зрителей,
// каталог доступных матчей и health-check. Метрики отдаются отдельным
// сервером (cmd/server).
type Server struct {
	engine   *gin.Engine
	httpSrv  *http.Server
	clients  *client.Manager
	catalog  catalog.Repository
	upgrader websocket.Upgrader
	log      *logging.Logger
}

// NewServer создает HTTP-сервер поверх клиентского менеджера и каталога
func NewServer(clients *client.Manager, cat catalog.Repository) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		clients: clients,
		catalog: cat,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// источники проверяет внешний балансировщик
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logging.GetNetworkLogger(),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.PrometheusMiddleware())
	engine.Use(otelgin.Middleware("match-replay"))

	engine.GET("/health", s.handleHealth)
	engine.GET("/ws", s.handleWS)
	engine.GET("/matches", s.handleMatches)
	engine.GET("/matches/:id", s.handleMatch)

	s.engine = engine
	return s
}

// Start запускает HTTP-сервер (блокирует до остановки)
func (s *Server) Start(port int) error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.log.Info("🌐 HTTP сервер слушает порт %d", port)

	err := s.httpSrv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ошибка HTTP сервера: %w", err)
	}
	return nil
}

// Stop корректно останавливает сервер
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMatches отдает список матчей, доступных для просмотра
func (s *Server) handleMatches(c *gin.Context) {
	matches, err := s.catalog.List(c.Request.Context())
	if err != nil {
		s.log.Warn("Ошибка чтения каталога: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"matches": matches,
		"count":   len(matches),
	})
}

// handleMatch отдает сводку одного матча по его ID
func (s *Server) handleMatch(c *gin.Context) {
	info, err := s.catalog.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, catalog.ErrMatchNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "match not found"})
		return
	}
	if err != nil {
		s.log.Warn("Ошибка чтения каталога: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "catalog unavailable"})
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleWS апгрейдит соединение зрителя. Идентичность берется из JWT
// в query-параметре token: id, роль и флаг контролирующего игрока.
func (s *Server) handleWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	viewerID, role, controller, err := auth.ValidateViewerToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("Ошибка апгрейда websocket для %s: %v", viewerID, err)
		return
	}

	sess := newWSSession(conn)
	s.clients.Register(viewerID, role, controller, sess)
	middleware.WebsocketConnections.Inc()

	go s.readLoop(viewerID, conn, sess)
}

// readLoop читает входящие фреймы и передает их клиентскому менеджеру
func (s *Server) readLoop(viewerID string, conn *websocket.Conn, sess *wsSession) {
	defer func() {
		middleware.WebsocketConnections.Dec()
		// снимаем только свою регистрацию: зритель мог переподключиться
		s.clients.OnConnClosed(viewerID, sess)
		sess.Close("")
	}()

	conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.clients.OnMessage(viewerID, data)
	}
}
