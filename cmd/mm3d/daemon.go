package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dougsko/mm3d/pkg/client"
	"github.com/dougsko/mm3d/pkg/config"
	"github.com/dougsko/mm3d/pkg/engine"
	"github.com/dougsko/mm3d/pkg/logging"
)

// MM3Daemon runs the core engine and the HTTP front end. HTTP requests
// reach the engine through its control socket like any other client.
type MM3Daemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	coreEngine   *engine.CoreEngine
	socketClient *client.SocketClient
	router       *gin.Engine
	webServer    *http.Server

	socketPath string
}

// NewMM3Daemon creates a new daemon instance
func NewMM3Daemon(cfg *config.Config, configPath string) (*MM3Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	socketPath := cfg.API.UnixSocket
	if socketPath == "" {
		socketPath = config.DefaultSocketPath
	}

	daemon := &MM3Daemon{
		config:       cfg,
		ctx:          ctx,
		cancel:       cancel,
		socketPath:   socketPath,
		socketClient: client.NewSocketClient(socketPath),
	}

	daemon.coreEngine = engine.NewCoreEngine(cfg, socketPath, configPath)

	if err := daemon.setupWebServer(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to setup web server: %w", err)
	}

	return daemon, nil
}

// Start starts the engine, then the web server
func (d *MM3Daemon) Start() error {
	logging.Info("daemon", "Starting mm3d daemon...")

	if err := d.coreEngine.Start(); err != nil {
		return fmt.Errorf("failed to start core engine: %w", err)
	}

	if !d.socketClient.IsConnected() {
		return fmt.Errorf("failed to connect to core engine socket")
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logging.Info("daemon", "Starting web server", map[string]interface{}{"addr": d.webServer.Addr})
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("daemon", "Web server error", map[string]interface{}{"error": err})
		}
	}()

	return nil
}

// Stop stops the web server first so no request races the engine shutdown
func (d *MM3Daemon) Stop() error {
	logging.Info("daemon", "Stopping daemon...")

	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Warnf("daemon", "Web server shutdown error: %v", err)
		}
	}

	if d.coreEngine != nil {
		if err := d.coreEngine.Stop(); err != nil {
			logging.Warnf("daemon", "Core engine shutdown error: %v", err)
		}
	}

	d.wg.Wait()

	logging.Info("daemon", "Daemon stopped")
	return nil
}

// setupWebServer initializes the router and routes
func (d *MM3Daemon) setupWebServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	api := router.Group("/api/v1")
	{
		api.GET("/status", d.handleGetStatus)
		api.GET("/qsos", d.handleGetQSOs)
		api.POST("/qsos", d.handleLogQSO)
		api.DELETE("/qsos/:nr", d.handleDeleteQSO)
		api.GET("/macros", d.handleGetMacros)
		api.PUT("/macros/:key", d.handleSetMacro)
		api.POST("/macros/:key", d.handleSendMacro)
		api.POST("/command", d.handleCommand)
		api.GET("/serial", d.handleGetSerialDevices)
	}

	router.GET("/ws/echo", d.handleEchoWebSocket)

	if m := d.coreEngine.Metrics(); m != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	d.router = router
	d.webServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port),
		Handler: router,
	}

	return nil
}

// requestLogger logs each request through the component logger
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("http", "Request", map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}
