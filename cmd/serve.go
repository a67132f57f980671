package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/conduit/httpcodec"
	"github.com/luma/conduit/transport"
)

var (
	// The host to listen on
	host string

	// The port to listen for http requests on
	port int

	// The port of the admin http server, 0 disables it
	adminPort int
)

func init() {
	flags := ServeCmd.PersistentFlags()

	flags.IntVarP(&port, "port", "p", 8080, "The port to listen for HTTP requests on")
	flags.IntVar(&adminPort, "admin-port", 0, "The port of the admin HTTP server, 0 disables it")
	flags.StringVarP(&host, "host", "a", "0.0.0.0", "The host to listen on")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP pipeline server",
	Long: `Start the HTTP pipeline server

Every request is answered with a fixed page as soon as its headers arrive.
Request bodies are logged.

Usage
	conduit serve --port 8080

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer signalStop()

		conf, log, err := setup(ctx)
		if err != nil {
			return err
		}
		defer log.Sync()

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		acceptors, err := transport.NewEventLoopGroup(acceptorLoops(conf), log.Named("acceptor"))
		if err != nil {
			return err
		}

		workers, err := transport.NewEventLoopGroup(conf.WorkerLoops, log.Named("worker"))
		if err != nil {
			acceptors.ShutdownGracefully(0, shutdownOptions(conf).Timeout)
			return err
		}

		coordinator := transport.NewCoordinator(log.Named("lifecycle"), shutdownOptions(conf), acceptors, workers)

		bootstrap := &transport.ServerBootstrap{
			Acceptors:        acceptors,
			Workers:          workers,
			ChildInitializer: httpcodec.ServerInitializer(log.Named("http")),
			Reuseport:        true,
			ReadBufferSize:   conf.ReadBufferSize,
			Events:           coordinator.Dispatch,
			Log:              log,
		}

		server, bindFuture := bootstrap.Bind(net.JoinHostPort(host, strconv.Itoa(port)))
		coordinator.WatchBind(server, bindFuture)

		var admin *http.Server
		if adminPort > 0 {
			admin = startAdmin(conf.DebugHTTP, server, log.Named("admin"))
		}

		go func() {
			select {
			case <-ctx.Done():
				// Restore default behavior on the interrupt signal and notify user of shutdown.
				signalStop()
				log.Info("Shutting down gracefully, press Ctrl+C again to force")
				server.Close()

			case <-workers.TerminationFuture().Done():
			}
		}()

		err = coordinator.Wait(context.Background())

		if admin != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			admin.SetKeepAlivesEnabled(false)
			if aerr := admin.Shutdown(shutdownCtx); aerr != nil {
				log.Error("Admin server forced to shutdown", zap.Error(aerr))
			}
		}

		log.Info("Exiting")
		return err
	},
}

func startAdmin(debugHTTP bool, server *transport.ServerChannel, log *zap.Logger) *http.Server {
	router := setupRouter(debugHTTP, log)

	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"addr":              addrString(server.Addr()),
			"activeConnections": server.ActiveConnections(),
		})
	})

	s := &http.Server{
		Addr:    net.JoinHostPort(host, strconv.Itoa(adminPort)),
		Handler: router,
	}

	// Initializing the server in a goroutine so that
	// it won't block the graceful shutdown handling
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Admin server errored", zap.Error(err))
		}
	}()

	log.Info("Admin server listening", zap.String("addr", s.Addr))

	return s
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log, skipping
	// the health checks.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	return addr.String()
}
