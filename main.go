package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quantgate/backtest"
	"quantgate/config"
	"quantgate/database"
	"quantgate/event"
	"quantgate/lock"
	"quantgate/logger"
	"quantgate/market"
	"quantgate/metrics"
	"quantgate/notify"
	"quantgate/promotion"
	"quantgate/storage"
	"quantgate/walkforward"
	"quantgate/web"
)

// Version 版本号
var Version = "0.4.0"

// eventRetentionDays 落库事件保留天数
const eventRetentionDays = 30

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-version" || os.Args[1] == "--version") {
		fmt.Printf("QuantGate Backtest & Promotion Service\n")
		fmt.Printf("Version: %s\n", Version)
		os.Exit(0)
	}

	// 解析调试参数（-debug / --debug）
	debugMode := false
	args := []string{}
	for _, arg := range os.Args[1:] {
		switch arg {
		case "-debug", "--debug":
			debugMode = true
		default:
			args = append(args, arg)
		}
	}
	if debugMode {
		log.Printf("[INFO] Debug 模式已启用：Gin 将输出全量请求日志")
	}

	// quantgate import <bars.csv> <symbol> [config.yaml]
	if len(args) > 0 && args[0] == "import" {
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "用法: quantgate import <bars.csv> <symbol> [config.yaml]")
			os.Exit(2)
		}
		configPath := "config.yaml"
		if len(args) > 3 {
			configPath = args[3]
		}
		cfg := loadConfig(configPath)
		if err := importBars(context.Background(), cfg, args[1], args[2]); err != nil {
			logger.Fatal("❌ 导入K线失败: %v", err)
		}
		return
	}

	configPath := "config.yaml"
	if len(args) > 0 {
		configPath = args[0]
	}
	cfg := loadConfig(configPath)

	logger.SetLevel(logger.ParseLogLevel(cfg.Log.Level))
	if cfg.Log.Dir != "" {
		if err := logger.EnableFile(cfg.Log.Dir); err != nil {
			logger.Warn("⚠️ 启用文件日志失败: %v", err)
		}
	}
	defer logger.Close()

	logger.Info("🚀 QuantGate 回测与晋升服务启动...")
	logger.Info("📦 版本号: %s", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. 数据库（策略元数据、验证记录、事件）
	db, err := database.NewDatabase(cfg.DatabaseSettings())
	if err != nil {
		logger.Fatal("❌ 初始化数据库失败: %v", err)
	}
	defer db.Close()
	logger.Info("✅ 数据库已初始化 (%s)", cfg.Database.Type)

	// 2. 分布式锁
	distributedLock, err := lock.NewDistributedLock(cfg.LockSettings())
	if err != nil {
		logger.Fatal("❌ 初始化分布式锁失败: %v", err)
	}
	defer distributedLock.Close()
	if cfg.Lock.Enabled {
		logger.Info("✅ 分布式锁已启用 (%s)", cfg.Lock.Type)
	}

	// 3. 指标
	var (
		sink     metrics.Sink = metrics.Nop{}
		lockObs  lock.Observer
		sysStats *metrics.SystemMetricsCollector
	)
	if cfg.Metrics.Enabled {
		pm := metrics.GetPrometheusMetrics()
		sink = pm
		lockObs = pm
		sysStats = metrics.NewSystemMetricsCollector(time.Duration(cfg.Metrics.SystemIntervalSecs) * time.Second)
		sysStats.Start()
		defer sysStats.Stop()
		logger.Info("✅ Prometheus 指标已启用")
	}

	// 4. 事件总线与事件中心
	eventBus := event.NewEventBus(cfg.Events.BufferSize)
	eventCenter := event.NewEventCenter(eventBus)
	if cfg.Events.Persist {
		eventCenter.AddProcessor(db)
		go cleanupEventsLoop(ctx, db)
	}
	if cfg.Events.Kafka.Enabled {
		kafkaPub, err := event.NewKafkaPublisher(cfg.KafkaSettings())
		if err != nil {
			logger.Fatal("❌ 初始化 Kafka 失败: %v", err)
		}
		defer kafkaPub.Close()
		eventCenter.AddProcessor(kafkaPub)
		logger.Info("✅ 事件将转发到 Kafka topic %s", cfg.Events.Kafka.Topic)
	}
	notifier := notify.NewNotificationService(cfg.Notifications)
	if notifier.Enabled() {
		eventCenter.AddProcessor(notifier)
	}
	var hub *web.WebSocketHub
	if cfg.Web.Enabled {
		hub = web.NewWebSocketHub()
		defer hub.Close()
		eventCenter.AddProcessor(hub)
	}
	eventCenter.Start()

	// 5. 历史数据源
	source, closeSource, err := buildDataSource(cfg)
	if err != nil {
		logger.Fatal("❌ 初始化数据源失败: %v", err)
	}
	defer closeSource()
	logger.Info("✅ 历史数据源: %s", cfg.DataSource.Type)

	// 6. 策略、回测器、验证器、晋升引擎
	registry, err := cfg.BuildRegistry()
	if err != nil {
		logger.Fatal("❌ 构造策略失败: %v", err)
	}
	logger.Info("✅ 已注册策略: %v", registry.List())

	btCfg, err := cfg.BacktestSettings()
	if err != nil {
		logger.Fatal("❌ 回测参数错误: %v", err)
	}
	runner, err := backtest.NewRunner(btCfg, source, registry,
		backtest.WithSink(sink), backtest.WithPublisher(eventBus))
	if err != nil {
		logger.Fatal("❌ 创建回测器失败: %v", err)
	}

	validator := walkforward.NewValidator(runner, cfg.WalkForwardSettings(),
		walkforward.WithSink(sink), walkforward.WithPublisher(eventBus), walkforward.WithRecorder(db))

	engineOpts := []promotion.Option{
		promotion.WithLock(distributedLock, time.Duration(cfg.Lock.DefaultTTLSec)*time.Second),
		promotion.WithSink(sink),
		promotion.WithPublisher(eventBus),
	}
	if lockObs != nil {
		engineOpts = append(engineOpts, promotion.WithLockObserver(lockObs))
	}
	engine, err := promotion.NewEngine(db, cfg.Promotion, engineOpts...)
	if err != nil {
		logger.Fatal("❌ 创建晋升引擎失败: %v", err)
	}

	// 配置中的策略若尚无元数据，以 development 状态登记
	for _, name := range registry.List() {
		if _, err := engine.Get(ctx, name); err == nil {
			continue
		}
		if _, err := engine.Register(ctx, name); err != nil {
			logger.Warn("⚠️ 登记策略 %s 失败: %v", name, err)
		}
	}

	// 7. 配置热更新
	hotReloader := config.NewHotReloader(cfg)
	hotReloader.RegisterCallback(func(oldCfg, newCfg *config.Config, changes []config.ConfigChange) error {
		if err := engine.SetThresholds(newCfg.Promotion); err != nil {
			return err
		}
		validator.SetConfig(newCfg.WalkForwardSettings())
		logger.SetLevel(logger.ParseLogLevel(newCfg.Log.Level))
		return nil
	})
	watcher, err := config.NewConfigWatcher(configPath, hotReloader)
	if err != nil {
		logger.Warn("⚠️ 创建配置监控器失败: %v，热更新不可用", err)
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("⚠️ 启动配置监控失败: %v", err)
	} else {
		defer watcher.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case diff := <-watcher.RestartRequired():
					for _, c := range diff.Changes {
						if !c.RequiresRestart {
							continue
						}
						logger.Warn("⚠️ 配置项 %s 已修改，需要重启生效", c.Path)
					}
				case err := <-watcher.Errors():
					logger.Warn("⚠️ 配置热更新失败: %v", err)
				}
			}
		}()
	}

	// 8. Web 服务
	var webServer *web.WebServer
	if cfg.Web.Enabled {
		webServer = web.NewWebServer(cfg.Web.Host, cfg.Web.Port, &web.Services{
			Runner:            runner,
			Validator:         validator,
			Engine:            engine,
			Runs:              db,
			Events:            db,
			Hub:               hub,
			Health:            db.Ping,
			ReportsDir:        cfg.App.ReportsDir,
			DefaultFolds:      cfg.WalkForward.NFolds,
			DefaultWindowDays: cfg.WalkForward.TestWindowDays,
		}, debugMode)
		webServer.Start(ctx)
	}

	eventBus.Publish(&event.Event{
		Type: event.EventTypeSystemStart,
		Data: map[string]interface{}{"version": Version, "strategies": registry.List()},
	})

	logger.Info("✅ 系统初始化完成，程序正在运行中...")
	logger.Info("💡 按 Ctrl+C 退出程序")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("🛑 收到退出信号，开始优雅关闭...")
	eventBus.Publish(&event.Event{
		Type: event.EventTypeSystemStop,
		Data: map[string]interface{}{"reason": "收到退出信号"},
	})

	webServer.Stop()
	cancel()
	// 给事件中心一点时间把队列处理完
	time.Sleep(500 * time.Millisecond)
	eventCenter.Stop()
	eventBus.Close()
	notifier.Wait()

	logger.Info("✅ 程序已安全退出")
}

// loadConfig 配置文件不存在时写出默认配置
func loadConfig(path string) *config.Config {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		if err := config.SaveConfig(cfg, path); err != nil {
			logger.Warn("⚠️ 保存默认配置失败: %v，将继续运行", err)
		} else {
			logger.Info("ℹ️ 配置文件不存在，已创建默认配置: %s", path)
		}
		return cfg
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger.Fatal("❌ 加载配置失败: %v", err)
	}
	return cfg
}

// buildDataSource 按配置构造历史数据源
// 远程数据源在 prefetch_days > 0 时包一层内存缓存
func buildDataSource(cfg *config.Config) (market.DataSource, func() error, error) {
	nop := func() error { return nil }
	ds := cfg.DataSource

	var remote market.DataSource
	switch ds.Type {
	case "sqlite":
		store, err := storage.NewSQLiteBarStore(ds.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "parquet":
		return storage.NewParquetBarSource(ds.ParquetDir), nop, nil
	case "binance":
		var cache *backtest.CacheManager
		if ds.CacheDir != "" {
			cache = backtest.NewCacheManager(ds.CacheDir)
		}
		remote = backtest.NewBinanceSource(backtest.BinanceOptions{
			APIKey:     ds.Binance.APIKey,
			SecretKey:  ds.Binance.SecretKey,
			Testnet:    ds.Binance.Testnet,
			Interval:   ds.Binance.Interval,
			RatePerSec: ds.Binance.RatePerSec,
			Cache:      cache,
		})
	case "alpaca":
		remote = backtest.NewAlpacaSource(backtest.AlpacaOptions{
			APIKey:     ds.Alpaca.APIKey,
			APISecret:  ds.Alpaca.APISecret,
			DataURL:    ds.Alpaca.DataURL,
			Feed:       ds.Alpaca.Feed,
			RatePerSec: ds.Alpaca.RatePerSec,
		})
	default:
		return nil, nil, fmt.Errorf("不支持的数据源类型: %s", ds.Type)
	}

	if ds.PrefetchDays > 0 {
		start := time.Now().UTC().AddDate(0, 0, -ds.PrefetchDays).Truncate(24 * time.Hour)
		ttl := time.Duration(ds.CacheTTLMin) * time.Minute
		return market.NewCachedSource(remote, start, time.Time{}, ttl), nop, nil
	}
	return remote, nop, nil
}

// cleanupEventsLoop 每天清理过期事件
func cleanupEventsLoop(ctx context.Context, db database.Database) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.CleanupOldEvents(ctx, eventRetentionDays)
			if err != nil {
				logger.Warn("⚠️ 清理事件失败: %v", err)
				continue
			}
			logger.Info("🧹 已清理 %d 条过期事件（%d天前）", n, eventRetentionDays)
		}
	}
}
