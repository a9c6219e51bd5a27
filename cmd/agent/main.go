package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/0xA1M/sentinel-watch/internal/appmon"
	"github.com/0xA1M/sentinel-watch/internal/config"
	"github.com/0xA1M/sentinel-watch/internal/correlation"
	"github.com/0xA1M/sentinel-watch/internal/filemon"
	"github.com/0xA1M/sentinel-watch/internal/logging"
	"github.com/0xA1M/sentinel-watch/internal/models"
	"github.com/0xA1M/sentinel-watch/internal/netmon"
	"github.com/0xA1M/sentinel-watch/internal/sched"
	"github.com/0xA1M/sentinel-watch/internal/spool"
	"github.com/0xA1M/sentinel-watch/internal/uploader"
)

const (
	flushInterval     = 30 * time.Second
	driveScanInterval = 3 * time.Second
	tickInterval      = time.Second
)

func main() {
	// Missing .env is fine: service-host deployments pass real env.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logging.New(cfg.Security.LocalLogPath)
	defer log.Sync()

	log.Info("agent starting",
		zap.String("device_id", cfg.DeviceID),
		zap.String("endpoint", cfg.APIEndpoint),
		zap.String("version", models.AgentVersion))

	deviceInfo := models.CollectDeviceInfo(cfg.DeviceID)

	queue, err := spool.NewQueue(cfg.Security.LocalQueuePath, cfg.Security.QueueSecret,
		cfg.Security.EncryptLocalQueue, log.Named("spool"))
	if err != nil {
		log.Fatal("failed to open local queue", zap.Error(err))
	}

	engine := correlation.NewEngine(cfg.Correlation, cfg.DeviceID, log.Named("correlation"),
		queue.EnqueueAlert, queue.EnqueueFile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sampler := appmon.NewPlatformSampler()
	attribute := func() string {
		info, err := sampler.Sample()
		if err != nil {
			return ""
		}
		return info.Process
	}

	var fileMonitor *filemon.Monitor
	if cfg.FileMonitor.Enabled {
		fileMonitor = filemon.NewMonitor(cfg.FileMonitor, cfg.DeviceID, deviceInfo.UserName,
			cfg.Security.LocalQueuePath, nil, attribute, log.Named("filemon"))
		if err := fileMonitor.Start(ctx); err != nil {
			log.Error("file monitor failed to start", zap.Error(err))
			fileMonitor = nil
		}
	}

	var appMonitor *appmon.Monitor
	if cfg.AppMonitor.Enabled {
		appMonitor = appmon.NewMonitor(cfg.AppMonitor, cfg.DeviceID, sampler, log.Named("appmon"))
		appMonitor.Start()
	}

	var netMonitor *netmon.Monitor
	if cfg.NetworkMonitor.Enabled {
		netMonitor = netmon.NewMonitor(cfg.NetworkMonitor, cfg.DeviceID, nil, log.Named("netmon"))
		netMonitor.Start(ctx)
	}

	// Fan monitor streams through the correlation engine into the queue.
	// The engine is evaluated inline on these consumer goroutines.
	if fileMonitor != nil {
		go func() {
			for ev := range fileMonitor.Events() {
				engine.HandleFileEvent(ev)
			}
		}()
	}
	if netMonitor != nil {
		go func() {
			for ev := range netMonitor.Events() {
				engine.HandleNetworkEvent(ev)
				queue.EnqueueNetwork(ev)
			}
		}()
	}
	if appMonitor != nil {
		go func() {
			for ev := range appMonitor.Events() {
				queue.EnqueueAppUsage(ev)
			}
		}()
	}

	scheduler := sched.New(log.Named("sched"))
	scheduler.Every("queue-flush", flushInterval, func() {
		if err := queue.Flush(); err != nil {
			log.Warn("queue flush failed", zap.Error(err))
		}
	})
	scheduler.Every("correlation-tick", tickInterval, engine.Tick)
	if fileMonitor != nil {
		scheduler.Every("drive-rescan", driveScanInterval, func() {
			fileMonitor.RescanDrives(ctx)
		})
	}
	scheduler.Start()

	up := uploader.New(uploader.Config{
		Endpoint:              cfg.APIEndpoint,
		APIKey:                cfg.APIKey,
		DeviceID:              cfg.DeviceID,
		MaxBatchSize:          cfg.MaxBatchSize,
		UploadIntervalSeconds: cfg.UploadIntervalSeconds,
		RetentionDays:         cfg.Security.LogRetentionDays,
	}, queue, func() models.DeviceInfo {
		info := deviceInfo
		info.LastSeen = models.Now()
		return info
	}, log.Named("uploader"))
	go up.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down agent")

	scheduler.Stop()
	if fileMonitor != nil {
		fileMonitor.Stop()
	}
	if appMonitor != nil {
		appMonitor.Stop()
	}
	if netMonitor != nil {
		netMonitor.Stop()
	}
	up.Stop()
	cancel()

	// Release anything the correlation engine is still holding, then
	// flush one last time so no event dies in memory.
	engine.DrainHeld()
	if err := queue.Flush(); err != nil {
		log.Error("final flush failed", zap.Error(err))
	}

	log.Info("agent stopped")
}
