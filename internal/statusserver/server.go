// Package statusserver exposes a read-only local HTTP view of a running
// agent: recent DMs, breaker and gate state, cursors and the interaction
// log.
package statusserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/sociobot/internal/breaker"
	"github.com/zulandar/sociobot/internal/cursor"
	"github.com/zulandar/sociobot/internal/models"
	"github.com/zulandar/sociobot/internal/relay"
)

// DMSource lists recent direct messages.
type DMSource interface {
	RecentDMs(ctx context.Context, perChannel, total int) ([]relay.DMEntry, error)
}

// InteractionSource reads the interaction log.
type InteractionSource interface {
	Recent(ctx context.Context, agent, channelID string, limit int) ([]models.Interaction, error)
}

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Agent        string
	Port         int // 0 disables the server
	DMs          DMSource
	Breaker      *breaker.Breaker
	Gate         *breaker.Gate
	Cursors      cursor.Store
	Interactions InteractionSource // optional; nil when persistence is file-based
	Out          io.Writer
}

// Start serves on 127.0.0.1 until ctx is cancelled, then shuts down
// gracefully. It returns immediately when Port is 0.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port == 0 {
		return nil
	}
	if opts.DMs == nil {
		return fmt.Errorf("statusserver: dm source is required")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("statusserver: listen %s: %w", addr, err)
	}
	return serve(ctx, ln, opts)
}

func serve(ctx context.Context, ln net.Listener, opts StartOpts) error {
	srv := &http.Server{Handler: newRouter(opts)}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "DM monitoring server listening on %s\n", ln.Addr())
	}
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("statusserver: %w", err)
	}
	return nil
}

func newRouter(opts StartOpts) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router
}
