package kai

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Avidan87/KAI-sub000/internal/api"
)

var (
	serveAddr      string
	serveNoRepairs bool
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the meal ledger over HTTP with a nightly ledger repair",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := appCfg.HTTPAddr
		if cmd.Flags().Changed("addr") {
			addr = serveAddr
		}
		if appCfg.LogLevel != "debug" && appCfg.LogLevel != "development" {
			gin.SetMode(gin.ReleaseMode)
		}
		return withDB(func(sqldb *sql.DB) error {
			defer func() { _ = appLog.Sync() }()
			deps, err := newDeps(sqldb)
			if err != nil {
				return err
			}
			srv := api.NewServer(sqldb, deps, api.Options{CORSOrigins: appCfg.CORSOrigins, Log: appLog})

			if !serveNoRepairs {
				sched, err := api.NewScheduler(sqldb, appCfg.RepairSchedule, appLog)
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
			}

			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				appLog.Info("listening", zap.String("addr", addr))
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}
			appLog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default $KAI_HTTP_ADDR or :8080)")
	serveCmd.Flags().BoolVar(&serveNoRepairs, "no-repair", false, "Disable the scheduled ledger repair")
}
