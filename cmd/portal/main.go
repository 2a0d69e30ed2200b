package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	commonlog "umrah_portal/server/common/log"
	portalapp "umrah_portal/server/portal/app"
)

func main() {
	cfg := portalapp.LoadConfig()

	portalServer, err := portalapp.NewServer(cfg)
	if err != nil {
		log.Fatalf("initialize portal server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		commonlog.Infof("start portal http server on :%s", cfg.Port)
		if err := portalServer.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("run portal http server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := portalServer.Shutdown(shutdownCtx); err != nil {
		commonlog.Errorf("shutdown portal server gracefully: %v", err)
	}
}
