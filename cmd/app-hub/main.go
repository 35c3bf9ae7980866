package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	c "github.com/jessmzp/btcpayserver/internal/config"
	"github.com/jessmzp/btcpayserver/internal/database"
	"github.com/jessmzp/btcpayserver/internal/event"
	"github.com/jessmzp/btcpayserver/internal/hub"
	"github.com/jessmzp/btcpayserver/internal/logger"
	"github.com/jessmzp/btcpayserver/internal/notify"
	"github.com/jessmzp/btcpayserver/internal/poller"
	"github.com/jessmzp/btcpayserver/internal/tracker"
	"github.com/jessmzp/btcpayserver/internal/transport"
	"github.com/jessmzp/btcpayserver/internal/utils"
)

func main() {
	config, err := c.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		return
	}
	loggerCallback := logger.Init()
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)

	err = database.ConnectDatabase()
	if err != nil {
		logger.FatalF("Error occured while initializing database, details: %v", err)
		return
	}

	dbStore := database.NewDatabaseStore()
	reservations := database.NewCachedReservations(dbStore, cacheTTL(config.Hub.ReservationCacheTTL))
	stores := database.NewCachedStoreSource(dbStore, 256, cacheTTL(config.Hub.StoreCacheTTL))
	trackerClient := tracker.NewClient(config.Hub.TrackerURL)

	var appHub *hub.Hub
	server := transport.NewTCPServer(handlerProxy{hub: func() *hub.Hub { return appHub }})
	appHub = hub.NewHub(server, stores, reservations, trackerClient, trackerClient)
	cleaner.Add(server.CloseCallback())

	if config.Hub.NodeInfoPath != "" {
		interval := utils.ParseStringTime(config.Hub.NodeInfoInterval)
		if interval == 0 {
			interval = time.Minute
		}
		source := &poller.FileSource{Path: config.Hub.NodeInfoPath}
		nodePoller := poller.NewPoller(source, notify.NewRouter(server), interval)

		pollerCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		go nodePoller.Run(pollerCtx)
	}

	server.StartServer(config.AppPort)
}

func cacheTTL(value string) time.Duration {
	ttl := utils.ParseStringTime(value)
	if ttl == 0 {
		ttl = time.Hour
	}
	return ttl
}

// handlerProxy 解决hub与transport互相持有的初始化顺序问题
type handlerProxy struct {
	hub func() *hub.Hub
}

func (p handlerProxy) OnConnect(ctx context.Context, connID string, accountID string) error {
	return p.hub().OnConnect(ctx, connID, accountID)
}

func (p handlerProxy) OnDisconnect(ctx context.Context, connID string) {
	p.hub().OnDisconnect(ctx, connID)
}

func (p handlerProxy) OnEnvelope(ctx context.Context, connID string, env *transport.Envelope) *transport.Envelope {
	return p.hub().OnEnvelope(ctx, connID, env)
}
