package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"arbflow/config"
	"arbflow/internal/arb"
	"arbflow/internal/engine"
	"arbflow/internal/feed"
	"arbflow/internal/marketdata"
	"arbflow/internal/recorder"
	"arbflow/internal/router"
	"arbflow/internal/venue"
	"arbflow/logger"
	"arbflow/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Arbflow.Name,
		"version":     cfg.Arbflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting arbflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := feed.NewRegistry()
	pool := venue.NewPool(len(cfg.Venues))

	eng := engine.NewEngine(engine.Options{
		OrderQueueSize:   cfg.Channels.OrderBuffer,
		ReportQueueSize:  cfg.Channels.ReportBuffer,
		OrderCore:        cfg.Affinity.OrderCore,
		ReportCore:       cfg.Affinity.ReportCore,
		RealtimePriority: cfg.Affinity.RealtimePriority,
		Risk:             cfg.Risk,
	}, engine.NewPoolTransport(pool))

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		rec = recorder.NewRecorder(cfg.Recorder)
	}

	handlers := make(map[models.Protocol]*marketdata.Handler, len(cfg.Venues))
	conns := make([]*venue.WSConnection, 0, len(cfg.Venues))

	for _, vc := range cfg.Venues {
		// The dex feed speaks the fixed binary framing; everything else
		// sends json envelopes.
		if vc.Protocol == models.ProtocolDexStream {
			registry.Register(vc.Protocol, feed.NewBinaryParser(vc.Protocol))
		} else {
			registry.Register(vc.Protocol, feed.NewJSONParser(vc.Protocol))
		}

		handler := marketdata.NewHandler(marketdata.Options{
			QueueSize: cfg.Channels.MarketDataBuffer,
			Core:      cfg.Affinity.MarketDataCore,
		})
		handlers[vc.Protocol] = handler

		conn := venue.NewWSConnection(vc)
		conn.OnData(func(pkt models.RawPacket) {
			msg, ok := registry.Normalize(pkt)
			if !ok {
				return
			}
			if fill, isFill := msg.(models.OrderFill); isFill {
				eng.HandleFill(fill)
				return
			}
			if rec != nil {
				if q, isQuote := msg.(models.QuoteUpdate); isQuote {
					rec.Record(models.Quote{
						MarketID:  q.MarketID,
						Venue:     q.Protocol,
						BidPrice:  q.BidPrice,
						BidSize:   q.BidSize,
						AskPrice:  q.AskPrice,
						AskSize:   q.AskSize,
						Timestamp: q.Timestamp,
					})
				}
			}
			if !handler.Publish(msg) {
				log.WithComponent("main").WithFields(logger.Fields{
					"protocol": string(pkt.Protocol),
				}).Warn("market data queue full, message dropped")
			}
		})
		if err := pool.Add(conn); err != nil {
			log.WithError(err).Error("failed to register venue connection")
			os.Exit(1)
		}
		conns = append(conns, conn)
	}

	sources := make([]arb.QuoteSource, 0, len(handlers))
	priceSources := make(map[models.Protocol]router.PriceSource, len(handlers))
	for protocol, handler := range handlers {
		sources = append(sources, handler)
		priceSources[protocol] = handler
	}

	detector := arb.NewDetector(arb.Options{
		ScanInterval: cfg.Arbitrage.ScanInterval,
		MaxQuoteAge:  cfg.Arbitrage.MaxQuoteAge,
		MinSpreadBps: cfg.Arbitrage.MinSpreadBps,
		MinProfit:    cfg.Arbitrage.MinProfit,
		FeesBps:      cfg.Arbitrage.FeesBps,
		Markets:      cfg.Arbitrage.Markets,
		Core:         cfg.Affinity.DetectorCore,
	}, sources...)

	rtr := router.NewRouter(cfg.Router, priceSources, eng)

	detector.OnOpportunity(func(opp models.Opportunity) {
		log.WithComponent("main").WithFields(logger.Fields{
			"market":     opp.MarketID,
			"buy_venue":  string(opp.BuyVenue),
			"sell_venue": string(opp.SellVenue),
			"spread_bps": opp.SpreadBps,
			"profit":     opp.ProfitAfterFees,
			"max_size":   opp.MaxSize,
			"stale":      opp.Stale,
		}).Info("arbitrage opportunity")
	})

	for _, handler := range handlers {
		if err := handler.Start(); err != nil {
			log.WithError(err).Error("failed to start market data handler")
			os.Exit(1)
		}
	}
	if err := eng.Start(); err != nil {
		log.WithError(err).Error("failed to start execution engine")
		os.Exit(1)
	}
	if err := detector.Start(); err != nil {
		log.WithError(err).Error("failed to start arbitrage detector")
		os.Exit(1)
	}
	if rec != nil {
		if err := rec.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start recorder")
			os.Exit(1)
		}
	}

	if err := pool.ConnectAll(ctx); err != nil {
		log.WithError(err).Warn("some venue connections failed, continuing with the rest")
	}
	for i, conn := range conns {
		for _, channel := range cfg.Venues[i].Channels {
			if err := conn.Subscribe(channel); err != nil {
				log.WithError(err).WithFields(logger.Fields{
					"protocol": string(conn.Protocol()),
					"channel":  channel,
				}).Warn("subscribe failed")
			}
		}
	}

	go reportStats(ctx, registry, handlers, eng, detector, rtr)

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	pool.DisconnectAll()
	detector.Stop()
	eng.Stop()
	for _, handler := range handlers {
		handler.Stop()
	}
	if rec != nil {
		rec.Stop()
	}

	log.Info("arbflow stopped")
}

// reportStats logs pipeline counters every 30 seconds.
func reportStats(ctx context.Context, registry *feed.Registry, handlers map[models.Protocol]*marketdata.Handler, eng *engine.Engine, detector *arb.Detector, rtr *router.Router) {
	log := logger.GetLogger().WithComponent("stats")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			normalized, dropped := registry.Stats()
			fields := logger.Fields{
				"normalized": normalized,
				"dropped":    dropped,
			}
			for protocol, handler := range handlers {
				fields["handler_"+string(protocol)] = handler.Stats().String()
			}
			es := eng.Stats()
			fields["orders_submitted"] = es.Submitted
			fields["orders_rejected"] = es.RiskRejected
			fields["fills"] = es.Fills
			fields["open_orders"] = es.OpenOrders
			ds := detector.Stats()
			fields["scans"] = ds.Scans
			fields["opportunities"] = ds.Found
			fields["live_opportunities"] = ds.Live
			if best, ok := detector.BestOpportunity(); ok {
				fields["best_market"] = best.MarketID
				fields["best_profit"] = best.ProfitAfterFees
			}
			for venueName, vs := range rtr.AllVenueStats() {
				fields["venue_"+venueName+"_avg_latency_ns"] = vs.AvgLatencyNs
				fields["venue_"+venueName+"_max_latency_ns"] = vs.MaxLatencyNs
			}
			if dl := eng.DispatchLatency(); dl.Count > 0 {
				logger.GetLogger().LogMetric("execution_engine", "dispatch_latency_ns", dl.P99Ns, "p99", logger.Fields{
					"samples": dl.Count,
					"p50_ns":  dl.P50Ns,
					"max_ns":  dl.MaxNs,
					"jitter":  dl.Jitter,
				})
			}
			log.WithFields(fields).Info("pipeline statistics")
		}
	}
}
