// Package server exposes the trading core over REST and websocket using
// gin. All REST endpoints are scoped to the account named by the
// X-Apex-User header; requests without the header fall through to the
// default account.
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/apexhq/apex/pkg/datasource"
	"github.com/apexhq/apex/pkg/hub"
	"github.com/apexhq/apex/pkg/ledger"
	"github.com/apexhq/apex/pkg/router"
	"github.com/apexhq/apex/pkg/types"
)

var log = logrus.WithField("component", "server")

const (
	userHeader  = "X-Apex-User"
	defaultUser = "default"
)

type Server struct {
	Router *router.Router
	Ledger *ledger.Ledger
	Hub    *hub.Hub
	Source datasource.Source

	CORSOrigins []string
	Debug       bool
}

func (s *Server) newEngine() *gin.Engine {
	if !s.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.CORSOrigins,
		AllowHeaders:     []string{"Origin", "Content-Type", userHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE"},
		AllowWebSockets:  true,
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/api/ping", s.ping)

	api := r.Group("/api", userScope)
	{
		api.POST("/orders", s.placeOrder)
		api.GET("/orders", s.listOrders)
		api.GET("/orders/:id", s.getOrder)
		api.PATCH("/orders/:id", s.updateOrder)
		api.DELETE("/orders/:id", s.cancelOrder)
		api.DELETE("/orders", s.cancelAllOrders)

		api.GET("/positions", s.listPositions)
		api.GET("/positions/:symbol", s.getPosition)
		api.DELETE("/positions/:symbol", s.closePosition)
		api.DELETE("/positions", s.closeAllPositions)

		api.GET("/quote/:symbol", s.getQuote)
		api.GET("/quotes", s.getQuotes)
		api.GET("/bars/:symbol", s.getBars)
	}

	r.GET("/ws/:channel", userScope, s.serveWebsocket)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// Run serves until the context is done, then drains with a short grace
// period.
func (s *Server) Run(ctx context.Context, bind string) error {
	srv := &http.Server{
		Addr:    bind,
		Handler: s.newEngine(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Infof("listening on %s", bind)

	select {
	case err := <-errCh:
		return err

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// userScope resolves the account for the request.
func userScope(c *gin.Context) {
	userID := c.GetHeader(userHeader)
	if userID == "" {
		userID = defaultUser
	}
	c.Set("userID", userID)
	c.Next()
}

func currentUser(c *gin.Context) string {
	return c.GetString("userID")
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// abortWithError maps the error taxonomy onto HTTP status codes.
func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, types.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, types.ErrAuth):
		return http.StatusBadGateway
	case errors.Is(err, types.ErrBrokerUnavailable):
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

func (s *Server) placeOrder(c *gin.Context) {
	var submit types.SubmitOrder
	if err := c.ShouldBindJSON(&submit); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.Router.PlaceOrder(c.Request.Context(), currentUser(c), submit)

	switch {
	case errors.Is(err, types.ErrIdempotencyConflict):
		// replaying a client order id returns the original record
		c.JSON(http.StatusOK, order)

	case err != nil && order != nil:
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "order": order})

	case err != nil:
		abortWithError(c, err)

	default:
		c.JSON(http.StatusCreated, order)
	}
}

func (s *Server) listOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	status := types.OrderStatus(c.Query("status"))

	orders, err := s.Router.List(c.Request.Context(), currentUser(c), status, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if orders == nil {
		orders = []types.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getOrder(c *gin.Context) {
	order, err := s.Router.Get(currentUser(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (s *Server) updateOrder(c *gin.Context) {
	var patch types.OrderPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := s.Router.Update(c.Request.Context(), currentUser(c), c.Param("id"), patch)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (s *Server) cancelOrder(c *gin.Context) {
	order, err := s.Router.Cancel(c.Request.Context(), currentUser(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (s *Server) cancelAllOrders(c *gin.Context) {
	canceled := s.Router.CancelAll(c.Request.Context(), currentUser(c))
	if canceled == nil {
		canceled = []types.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"canceled": canceled})
}

func (s *Server) listPositions(c *gin.Context) {
	positions := s.Ledger.List(currentUser(c))
	if positions == nil {
		positions = []types.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) getPosition(c *gin.Context) {
	position, err := s.Ledger.Get(currentUser(c), c.Param("symbol"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, position)
}

func (s *Server) closePosition(c *gin.Context) {
	qty, _ := strconv.ParseFloat(c.DefaultQuery("qty", "0"), 64)

	order, err := s.Ledger.Close(c.Request.Context(), s.Router, currentUser(c), c.Param("symbol"), qty)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (s *Server) closeAllPositions(c *gin.Context) {
	orders := s.Ledger.CloseAll(c.Request.Context(), s.Router, currentUser(c))
	if orders == nil {
		orders = []types.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getQuote(c *gin.Context) {
	symbol := c.Param("symbol")

	// prefer the hub's streamed quote, fall back to a snapshot query
	if quote, ok := s.Hub.LatestQuote(symbol); ok {
		c.JSON(http.StatusOK, quote)
		return
	}

	quote, err := s.Source.QueryQuote(c.Request.Context(), symbol)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// getQuotes returns the latest quote for each requested symbol, skipping
// symbols with no data rather than failing the batch.
func (s *Server) getQuotes(c *gin.Context) {
	symbols := strings.Split(c.Query("symbols"), ",")

	quotes := make(map[string]types.Quote)
	for _, symbol := range symbols {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}

		if quote, ok := s.Hub.LatestQuote(symbol); ok {
			quotes[symbol] = quote
			continue
		}

		quote, err := s.Source.QueryQuote(c.Request.Context(), symbol)
		if err != nil {
			log.WithError(err).Debugf("no quote for %s", symbol)
			continue
		}
		quotes[symbol] = *quote
	}

	c.JSON(http.StatusOK, quotes)
}

func (s *Server) getBars(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	bars, err := s.Source.QueryBars(c.Request.Context(), c.Param("symbol"), c.Query("timeframe"), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if bars == nil {
		bars = []types.Bar{}
	}
	c.JSON(http.StatusOK, bars)
}
