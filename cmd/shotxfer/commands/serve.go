package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"avaneesh/shotxfer/pkg/api"
	"avaneesh/shotxfer/pkg/endpoint"
	"avaneesh/shotxfer/pkg/store"
	"avaneesh/shotxfer/pkg/types"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a node: answer capture requests, record received screenshots, serve the API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg.Store, log)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close()
		}

		var handler endpoint.Handler = endpoint.HandlerFunc(func(origin types.PeerIdentity, payload *string) {
			if payload == nil {
				log.Warn("Peer %s produced no screenshot", origin)
				return
			}
			log.Info("Screenshot from %s, %d bytes", origin, len(*payload))
		})
		if st != nil {
			handler = store.NewRecorder(st, handler, log)
		}

		var capturer endpoint.Capturer
		if cfg.Capture.File != "" {
			capturer = endpoint.FileCapturer{Path: cfg.Capture.File}
		}

		n, err := startNode(cfg, capturer, handler, log)
		if err != nil {
			return err
		}
		defer n.stop()

		var server *api.Server
		if cfg.API.Listen != "" {
			server = api.New(n.manager, st, cfg.Node.ID, log)
			go func() {
				if err := server.ListenAndServe(cfg.API.Listen); err != nil {
					log.Error("API server: %v", err)
					stop()
				}
			}()
		}

		log.Info("Node %s serving on %s %s", cfg.Self(), cfg.Transport.Kind, cfg.Transport.Address)
		<-ctx.Done()
		log.Info("Shutting down")

		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Error("API shutdown: %v", err)
			}
		}
		return nil
	},
}
