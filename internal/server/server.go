package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Aidin1998/orderbook-sync/internal/booksync"
	"github.com/Aidin1998/orderbook-sync/internal/marketdata"
	"github.com/Aidin1998/orderbook-sync/internal/orderbook"
	apierrors "github.com/Aidin1998/orderbook-sync/pkg/errors"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// StateSource reports sync cursors. *booksync.Coordinator implements it.
type StateSource interface {
	Products() []booksync.ProductState
	Product(productID string) (booksync.ProductState, bool)
}

// Server exposes the synchronised books over HTTP and websocket.
type Server struct {
	logger   *zap.Logger
	states   StateSource
	hub      *marketdata.Hub
	upgrader websocket.Upgrader
}

func NewServer(logger *zap.Logger, states StateSource, hub *marketdata.Hub) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger: logger,
		states: states,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router creates the HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	books := router.Group("/books")
	{
		books.GET("", s.handleGetBooks)
		books.GET("/:product", s.handleGetBook)
	}
	router.GET("/ws/books/:product", s.handleStreamBook)

	router.NoRoute(func(c *gin.Context) {
		problem(c, apierrors.NewNotFoundError("no route for "+c.Request.URL.Path, c.Request.URL.Path))
	})

	return router
}

func problem(c *gin.Context, p *apierrors.ProblemDetails) {
	c.Header("Content-Type", apierrors.ContentType)
	c.JSON(p.Status, p)
}

func (s *Server) handleHealth(c *gin.Context) {
	live := 0
	states := s.states.Products()
	for _, st := range states {
		if st.State == booksync.StateLive {
			live++
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "products": len(states), "live": live})
}

func (s *Server) handleGetBooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"products": s.states.Products()})
}

// handleGetBook returns the latest published book, truncated to ?depth= levels.
func (s *Server) handleGetBook(c *gin.Context) {
	product := c.Param("product")
	depth := orderbook.DefaultDepth
	if raw := c.Query("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			problem(c, apierrors.NewValidationError("invalid query parameter", c.Request.URL.Path).
				WithValidationErrors(apierrors.ValidationError{
					Field:   "depth",
					Value:   raw,
					Message: "must be a positive integer",
				}))
			return
		}
		depth = n
	}

	state, ok := s.states.Product(product)
	if !ok {
		problem(c, apierrors.NewProductNotTrackedError(product, c.Request.URL.Path))
		return
	}
	update, ok := s.hub.Latest(product)
	if !ok {
		problem(c, apierrors.NewBookUnavailableError(product, c.Request.URL.Path).
			WithExtra("state", state.State))
		return
	}
	update.Book = update.Book.Truncate(depth)
	c.JSON(http.StatusOK, gin.H{"state": state.State, "update": update})
}

// handleStreamBook pushes every published book for a product to a websocket client,
// starting with the latest one.
func (s *Server) handleStreamBook(c *gin.Context) {
	product := c.Param("product")
	if _, ok := s.states.Product(product); !ok {
		problem(c, apierrors.NewProductNotTrackedError(product, c.Request.URL.Path))
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := s.hub.Subscribe(product)
	log := s.logger.With(zap.String("client", uuid.NewString()), zap.String("product", product))
	log.Info("book stream opened")

	go s.readPump(conn, sub)
	s.writePump(conn, sub, product)
	log.Info("book stream closed")
}

// readPump discards client frames and closes the subscription once the peer goes away.
func (s *Server) readPump(conn *websocket.Conn, sub *marketdata.Subscription) {
	defer sub.Close()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *marketdata.Subscription, product string) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.Close()
		conn.Close()
	}()

	// The subscription is open before the latest book is read, so an update published
	// in between can arrive twice. Only books newer than the last one sent go out.
	var sent int64
	sentAny := false
	if latest, ok := s.hub.Latest(product); ok {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(latest); err != nil {
			return
		}
		sent, sentAny = latest.Sequence, true
	}
	for {
		select {
		case update, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if sentAny && update.Sequence <= sent {
				continue
			}
			if err := conn.WriteJSON(update); err != nil {
				return
			}
			sent, sentAny = update.Sequence, true
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
