package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	grpcHandler "github.com/anthanhphan/go-distributed-kv/internal/node/adapter/inbound/grpc"
	httpHandler "github.com/anthanhphan/go-distributed-kv/internal/node/adapter/inbound/http"
	"github.com/anthanhphan/go-distributed-kv/internal/node/adapter/outbound/hintstore"
	"github.com/anthanhphan/go-distributed-kv/internal/node/adapter/outbound/lsm"
	"github.com/anthanhphan/go-distributed-kv/internal/node/adapter/outbound/peer"
	"github.com/anthanhphan/go-distributed-kv/internal/node/adapter/outbound/systemtable"
	"github.com/anthanhphan/go-distributed-kv/internal/node/config"
	"github.com/anthanhphan/go-distributed-kv/internal/node/port"
	"github.com/anthanhphan/go-distributed-kv/internal/node/service"
	"github.com/anthanhphan/go-distributed-kv/pkg/gossip"
	"github.com/anthanhphan/go-distributed-kv/pkg/idgen"
	"github.com/anthanhphan/go-distributed-kv/pkg/ring"
	"github.com/anthanhphan/gosdk/logger"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg       *config.Config
	server    *grpc.Server
	admin     *httpHandler.Server
	gossip    *gossip.GossipAdapter
	engine    *lsm.Engine
	peers     *peer.Client
	redis     redis.UniversalClient
	directory *service.NodeDirectory
	fatalCh   chan error
}

func New(configPath string) (*App, error) {
	// 1. Load Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Initialize Logger
	logger.InitLogger(&cfg.Logger)

	// 3. Ring policies
	partitioner, err := ring.NewPartitioner(cfg.Cluster.Partitioner)
	if err != nil {
		return nil, err
	}

	// 4. Gossip
	gossipAdapter := gossip.NewGossipAdapter(gossip.Config{
		NodeName:    cfg.Server.NodeName,
		BindAddr:    cfg.Server.Hostname,
		BindPort:    cfg.Gossip.Port,
		StoragePort: cfg.Server.Port,
		ControlPort: cfg.Gossip.Port,
		Seeds:       cfg.Gossip.Seeds,
	})

	snitch, err := ring.NewSnitch(cfg.Cluster.Snitch, ring.SnitchParams{
		Topology: cfg.Cluster.Topology,
		Default:  ring.Location{Datacenter: cfg.Cluster.Datacenter, Rack: cfg.Cluster.Rack},
		States:   gossipAdapter,
	})
	if err != nil {
		return nil, err
	}
	strategy, err := ring.NewStrategy(cfg.Cluster.PlacementStrategy, ring.StrategyParams{
		ReplicationFactor: cfg.Cluster.ReplicationFactor,
		Snitch:            snitch,
	})
	if err != nil {
		return nil, err
	}

	// 5. Storage Engine
	engine, err := lsm.NewEngine(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}

	// 6. Hints
	var (
		hints       port.HintStore = hintstore.NewMemoryStore()
		clock       idgen.Clock    = &idgen.SystemClock{}
		redisClient redis.UniversalClient
	)
	if cfg.Hints.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Hints.Redis.Addr,
			Password: cfg.Hints.Redis.Password,
			DB:       cfg.Hints.Redis.DB,
		})
		hints = hintstore.NewRedisStore(redisClient, "")
		clock = idgen.NewRedisClock(redisClient, 50*time.Millisecond)
	}
	hintIDs, err := idgen.New(idgen.NodeIDFromHost(cfg.Server.Hostname), clock)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	// 7. Node directory
	peers := peer.NewClient(peer.Options{})
	fatalCh := make(chan error, 1)
	directory, err := service.NewNodeDirectory(service.Deps{
		Gossiper:    gossipAdapter,
		Peers:       peers,
		Engine:      engine,
		System:      systemtable.New(cfg.Storage.SystemDir),
		Hints:       hints,
		HintIDs:     hintIDs,
		Partitioner: partitioner,
		Strategy:    strategy,
		Snitch:      snitch,
	}, service.Options{
		AutoBootstrap:         cfg.Cluster.AutoBootstrap,
		InitialToken:          cfg.Cluster.InitialToken,
		Datacenter:            cfg.Cluster.Datacenter,
		Rack:                  cfg.Cluster.Rack,
		RingDelay:             cfg.RingDelay(),
		RPCTimeout:            cfg.RPCTimeout(),
		HintDeliveryInterval:  cfg.HintDeliveryInterval(),
		LoadBroadcastInterval: cfg.LoadBroadcastInterval(),
		ConcurrentReads:       cfg.Stages.ConcurrentReads,
		ConcurrentWrites:      cfg.Stages.ConcurrentWrites,
		ConsistencyThreads:    cfg.Stages.ConsistencyThreads,
		HintThreads:           cfg.Hints.DeliveryThreads,
		QueueSize:             cfg.Stages.QueueSize,
		OnFatal: func(err error) {
			select {
			case fatalCh <- err:
			default:
			}
		},
	})
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("failed to init node directory: %w", err)
	}

	// 8. gRPC Server
	// Default 4MB is too small for range streams. Set to 16MB.
	maxMsgSize := 16 * 1024 * 1024
	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	grpcHandler.NewServer(directory).Register(grpcServer)

	return &App{
		cfg:       cfg,
		server:    grpcServer,
		admin:     httpHandler.NewServer(cfg.Admin.Addr, directory),
		gossip:    gossipAdapter,
		engine:    engine,
		peers:     peers,
		redis:     redisClient,
		directory: directory,
		fatalCh:   fatalCh,
	}, nil
}

func (a *App) Run() error {
	// Peers may stream from us while we join, so serve before starting gossip.
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", a.cfg.Server.Port, err)
	}

	serverErrCh := make(chan error, 2)
	go func() {
		if err := a.server.Serve(listener); err != nil {
			serverErrCh <- fmt.Errorf("gRPC server failed: %w", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.directory.Start(ctx); err != nil {
		a.server.Stop()
		_ = a.engine.Close()
		return fmt.Errorf("failed to start node directory: %w", err)
	}

	go func() {
		if err := a.admin.Start(); err != nil {
			serverErrCh <- fmt.Errorf("admin server failed: %w", err)
		}
	}()

	logger.Infow("Node starting",
		"node", a.cfg.Server.NodeName,
		"host", a.cfg.Server.Hostname,
		"port", a.cfg.Server.Port,
		"gossip", a.cfg.Gossip.Port,
		"admin", a.cfg.Admin.Addr,
		"token", a.directory.Token().String(),
		"state", a.directory.State())

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	var runErr error
	select {
	case sig := <-stop:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	case err := <-a.fatalCh:
		runErr = fmt.Errorf("fatal node error: %w", err)
		logger.Errorw("Node directory reported a fatal error", "error", err.Error())
	case err := <-serverErrCh:
		// Ignore expected stop errors.
		errMsg := err.Error()
		if !strings.Contains(errMsg, "use of closed network connection") && !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
			logger.Errorw("Server exited unexpectedly", "error", errMsg)
		}
	}

	a.shutdown()
	return runErr
}

func (a *App) shutdown() {
	logger.Info("Shutting down node services")

	a.directory.Stop()
	if err := a.gossip.Leave(); err != nil {
		logger.Warnw("Gossip leave failed", "error", err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.admin.Stop(ctx); err != nil {
		logger.Warnw("Admin server stop failed", "error", err.Error())
	}
	a.server.GracefulStop()

	if err := a.peers.Close(); err != nil {
		logger.Warnw("Peer client close failed", "error", err.Error())
	}
	if err := a.engine.Close(); err != nil {
		logger.Warnw("Storage engine close failed", "error", err.Error())
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warnw("Redis close failed", "error", err.Error())
		}
	}
}
