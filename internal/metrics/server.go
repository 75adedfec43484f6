package metrics

import (
	"context"
	"errors"
	"expvar"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/betbot/storedemo/internal/registry"
)

var log = logrus.WithField("component", "metrics")

// InventoryReader exposes the simulator counters to /api/inventory.
type InventoryReader interface {
	Stock() int64
	Sold() int64
}

// ComponentLister lists launched component records for a run.
type ComponentLister interface {
	List(ctx context.Context, runID string) ([]registry.Record, error)
}

type RouterOptions struct {
	Gatherer   prometheus.Gatherer
	Product    string
	Inventory  InventoryReader
	Components ComponentLister
	RunID      string
	State      func() string
}

// NewRouter 返回 metrics/debug 路由：
// - prometheus: /metrics
// - expvar: /debug/vars
// - pprof:  /debug/pprof
// - 状态: /healthz, /api/inventory, /api/components
func NewRouter(opts RouterOptions) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	api := r.Group("/api")
	api.GET("/inventory", func(c *gin.Context) {
		if opts.Inventory == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "inventory not running"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"product": opts.Product,
			"stock":   opts.Inventory.Stock(),
			"sold":    opts.Inventory.Sold(),
		})
	})
	api.GET("/components", func(c *gin.Context) {
		state := ""
		if opts.State != nil {
			state = opts.State()
		}
		recs := []registry.Record{}
		if opts.Components != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			defer cancel()
			list, err := opts.Components.List(ctx, opts.RunID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if list != nil {
				recs = list
			}
		}
		c.JSON(http.StatusOK, gin.H{"run_id": opts.RunID, "state": state, "components": recs})
	})

	r.GET("/debug/vars", gin.WrapH(expvar.Handler()))
	// pprof：显式注册，避免依赖 DefaultServeMux 的全局副作用
	r.GET("/debug/pprof/*name", func(c *gin.Context) {
		switch c.Param("name") {
		case "/cmdline":
			pprof.Cmdline(c.Writer, c.Request)
		case "/profile":
			pprof.Profile(c.Writer, c.Request)
		case "/symbol":
			pprof.Symbol(c.Writer, c.Request)
		case "/trace":
			pprof.Trace(c.Writer, c.Request)
		default:
			pprof.Index(c.Writer, c.Request)
		}
	})
	return r
}

// StartAsync 启动 HTTP 服务（非阻塞），并在 ctx.Done() 时优雅关闭。
func StartAsync(ctx context.Context, listenAddr string, handler http.Handler) (*http.Server, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	s := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("metrics server stopped: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	return s, nil
}
