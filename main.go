package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mqy/minichat/api"
	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/config"
	"github.com/mqy/minichat/engine"
	"github.com/mqy/minichat/event"
	"github.com/mqy/minichat/feed"
	"github.com/mqy/minichat/store"
	"github.com/mqy/minichat/ws"
)

var (
	flagConfig = flag.String("config", "", "toml config file, default: ./minichat.toml or $HOME/.minichat.toml")

	flagUser   = flag.String("user", "", "local user id")
	flagToken  = flag.String("token", "", "session token")
	flagAPIURL = flag.String("api-url", "", "request API base url, http(s)://host:port")
	flagWSURL  = flag.String("ws-url", "", "push websocket url, ws(s)://host:port/ws")

	flagKafkaBrokers = flag.String("kafka-brokers", "", "comma separated kafka brokers; empty disables the kafka feed")

	flagStore    = flag.String("store", "", "local state store: bolt or mysql")
	flagDBPath   = flag.String("db-path", "", "bolt: database file")
	flagMysqlDsn = flag.String("mysql-dsn", "", "mysql: server dsn")

	flagPollInterval = flag.Duration("poll-interval", 0, "fallback poll interval, 0 disables polling")
	flagOpen         = flag.String("open", "", "comma separated conversation ids to open on start")

	flagAddr           = flag.String("addr", "", "metrics address, ip:port")
	flagPidFile        = flag.String("pid-file", "", "pid file")
	flagPprofDir       = flag.String("pprof-dir", "", "dir to save pprof data files")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
)

// flagKeys maps command line flags onto config keys. Only flags set
// explicitly override the config file and the environment.
var flagKeys = map[string]string{
	"user":            "user.id",
	"token":           "user.token",
	"api-url":         "api.url",
	"ws-url":          "ws.url",
	"kafka-brokers":   "kafka.brokers",
	"store":           "store.driver",
	"db-path":         "store.path",
	"mysql-dsn":       "store.mysql_dsn",
	"poll-interval":   "engine.poll_interval",
	"addr":            "daemon.addr",
	"pid-file":        "daemon.pid_file",
	"pprof-dir":       "daemon.pprof_dir",
	"disable-metrics": "daemon.disable_metrics",
}

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	cfg, v := loadConfig()
	if v > 0 {
		return v
	}

	pid := os.Getpid()

	if err := savePid(cfg.Daemon.PidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(cfg.Daemon.PidFile)
	}()

	pprofDir := filepath.Join(cfg.Daemon.PprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		_ = os.RemoveAll(pprofDir)
	}()

	kv, err := openStore(cfg.Store)
	if err != nil {
		return errorf("store: %v", err)
	}
	defer func() {
		_ = kv.Close()
	}()

	glog.Info("minichat is starting")

	creds := &auth.Static{Uid: cfg.User.ID, Token: cfg.User.Token}
	apiClient, err := api.New(api.Config{
		BaseURL: cfg.API.URL,
		Timeout: cfg.API.Timeout,
		RPS:     cfg.API.RPS,
		Burst:   cfg.API.Burst,
	}, creds)
	if err != nil {
		return errorf("api: %v", err)
	}

	// The push sources deliver into the engine created below.
	var eng *engine.Engine
	onEvent := func(ev event.Event) { eng.Handle(ev) }

	wsClient, err := ws.NewClient(ws.Config{
		URL:     cfg.WS.URL,
		Creds:   creds,
		OnEvent: onEvent,
		OnConnect: func(reconnect bool) {
			if reconnect {
				eng.Resync()
			}
		},
	})
	if err != nil {
		return errorf("ws: %v", err)
	}

	transport := fanout{wsClient}
	var kafkaFeed *feed.Feed
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaFeed = feed.NewKafka(feed.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			EventTopic:   cfg.Kafka.EventTopic,
			CommandTopic: cfg.Kafka.CommandTopic,
			GroupID:      cfg.Kafka.GroupID,
		}, feed.Config{
			UserID:        cfg.User.ID,
			ValueMaxBytes: cfg.Kafka.ValueMaxBytes,
			MaxAge:        cfg.Kafka.MaxAge,
			OnEvent:       onEvent,
		})
		transport = append(transport, kafkaFeed)
	}

	eng, err = engine.New(engine.Config{
		UserID:         cfg.User.ID,
		MaxSurfaces:    cfg.Engine.MaxSurfaces,
		TypingDebounce: cfg.Engine.TypingDebounce,
		TypingTTL:      cfg.Engine.TypingTTL,
		PollInterval:   cfg.Engine.PollInterval,
		RequestTimeout: cfg.Engine.RequestTimeout,
	}, apiClient, transport, store.NewPinStore(kv, cfg.User.ID))
	if err != nil {
		return errorf("engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	start := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	start(func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			glog.Errorf("engine: %v", err)
		}
	})
	start(func() { wsClient.Run(ctx) })
	if kafkaFeed != nil {
		start(func() { kafkaFeed.Run(ctx) })
	}

	var srv *http.Server
	if !cfg.Daemon.DisableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
		srv = &http.Server{Addr: cfg.Daemon.Addr, Handler: mux}
		start(func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				glog.Errorf("metrics server: %v", err)
			}
		})
	}

	desktop, err := eng.NewManager(engine.Desktop)
	if err != nil {
		cancel()
		wg.Wait()
		return errorf("engine: %v", err)
	}
	for _, id := range config.SplitList(*flagOpen) {
		if _, err := desktop.Open(id); err != nil {
			glog.Errorf("open %s: %v", id, err)
		}
	}
	start(func() { watch(ctx, eng, desktop) })

	glog.Infof("minichat is running as user %s", cfg.User.ID)
	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var prof *profiler

loop:
	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			dumpGoroutines(pprofDir)
		case syscall.SIGUSR2:
			if prof == nil {
				prof = startProfiler(pprofDir)
			} else {
				prof.stop()
				prof = nil
			}
		case syscall.SIGTERM, syscall.SIGINT:
			glog.Infof("received signal `%s` stopping", sig.String())
			break loop
		}
	}
	signal.Stop(sigCh)

	if prof != nil {
		prof.stop()
	}
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		done()
	}
	cancel()
	wg.Wait()

	glog.Info("minichat exited")
	return 0
}

// fanout emits commands on every push transport. The first error is returned
// after all transports were tried.
type fanout []engine.Transport

func (f fanout) Send(cmd event.Command) error {
	var first error
	for _, t := range f {
		if err := t.Send(cmd); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// watch logs engine errors and a summary of the desktop surfaces on change.
func watch(ctx context.Context, eng *engine.Engine, desktop *engine.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-eng.Errors():
			glog.Warningf("minichat: %v", err)
		case <-eng.Changed():
			if !glog.V(2) {
				continue
			}
			views, err := desktop.Surfaces()
			if err != nil {
				continue
			}
			for _, v := range views {
				glog.Infof("surface %s %s: %d messages, %d typing, seen=%v",
					v.ID, v.Conversation.ID, len(v.Messages), len(v.Typing), v.Seen)
			}
		}
	}
}

func loadConfig() (*config.Config, int) {
	overrides := make(map[string]interface{})
	flag.Visit(func(f *flag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if key == "kafka.brokers" {
			overrides[key] = config.SplitList(f.Value.String())
			return
		}
		overrides[key] = f.Value.(flag.Getter).Get()
	})

	cfg, err := config.Load(*flagConfig, overrides)
	if err != nil {
		return nil, errorf("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errorf("config: %v", err)
	}
	if !cfg.Daemon.DisableMetrics {
		if err := validateAddr(cfg.Daemon.Addr); err != nil {
			return nil, errorf("daemon.addr: %v", err)
		}
	}
	return cfg, 0
}

func openStore(c config.Store) (store.KV, error) {
	switch c.Driver {
	case config.StoreMySQL:
		db, err := sql.Open("mysql", c.MySQLDSN)
		if err != nil {
			return nil, fmt.Errorf("sql.Open error, dsn: %s, err: %v", c.MySQLDSN, err)
		}
		db.SetConnMaxLifetime(time.Minute * 3)
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(1)
		return store.NewSQLKV(db), nil
	default:
		return store.OpenBolt(c.Path)
	}
}

func validateAddr(s string) error {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", host)
	}
	if !ip.IsLoopback() && !ip.IsPrivate() {
		return fmt.Errorf("`%s` is not loopback or private address", host)
	}
	return nil
}

func errorf(fmt string, args ...interface{}) int {
	glog.Errorf(fmt, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		// A stale pid file is overwritten; a live process is not.
		content, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(string(content))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("exists with pid: %d, the process is running", oldPid)
			}
			glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("write error: %v", err)
	}
	glog.Infof("pid file: write pid done")
	return nil
}
