package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/momo/internal/bottle"
	"github.com/momo/internal/identity"
	"github.com/momo/internal/question"
)

// Deps are the collaborators the handlers dispatch into.
type Deps struct {
	Engine   *bottle.Engine
	Board    *question.Service
	Resolver identity.Resolver
	IPSalt   string
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
	deps Deps
}

// NewServer creates a new API server
func NewServer(port int, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo: e,
		port: port,
		deps: deps,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Bottle exchange
	bottles := s.echo.Group("/api/bottles")
	bottles.GET("/stats", s.bottleStats)
	bottles.POST("", s.createBottle, s.requireAuth)
	bottles.GET("/my", s.myBottles, s.requireAuth)
	bottles.GET("/pick", s.pickBottle, s.requireAuth)
	bottles.PUT("/:id/release", s.releaseBottle, s.requireAuth)
	bottles.POST("/:id/messages", s.replyToBottle, s.requireAuth)
	bottles.GET("/:id", s.getBottle, s.requireAuth)

	// Question board. Asking is open to anonymous visitors, so that route
	// carries a per-client rate limit instead of requiring a token.
	askLimiter := middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(2)))
	questions := s.echo.Group("/api/questions")
	questions.POST("", s.askQuestion, s.optionalAuth, askLimiter)
	questions.GET("/inbox", s.questionInbox, s.requireAuth)
	questions.POST("/:id/replies", s.replyToQuestion, s.optionalAuth)
	questions.GET("/:id", s.getQuestion, s.optionalAuth)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	// Start server in a goroutine
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
