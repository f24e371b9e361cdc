// Package main 提供 cube-demo 命令行入口
//
// 在一个进程内运行服务端和 N 个机器人客户端：服务端维护一批绕圈移动的箱子，
// 每个客户端拥有一个化身，通过 RPC 操控移动，服务端的观察位置跟随化身。
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-cube"
	"github.com/dep2p/go-cube/config"
	"github.com/dep2p/go-cube/internal/core/transport/loopback"
	"github.com/dep2p/go-cube/pkg/lib/log"
)

var logger = log.Logger("cube/demo")

// 模板索引
const (
	templateCrate  uint16 = 1
	templateAvatar uint16 = 2
)

// 方法 ID
const methodSteer uint8 = 1

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
var (
	transportName = flag.String("transport", "", "传输后端 (loopback/quic/websocket)，默认取配置")
	clients       = flag.Int("clients", 4, "机器人客户端数量")
	duration      = flag.Duration("duration", 10*time.Second, "运行时长，0 表示直到 Ctrl+C")
	crates        = flag.Int("crates", 64, "服务端箱子数量")
	address       = flag.String("addr", "", "监听地址，默认取配置")
	configFile    = flag.String("config", "", "配置文件路径")
	preset        = flag.String("preset", "", "预设配置 (lan/internet/test)")
	seed          = flag.Int64("seed", 1, "随机种子")

	logFile  = flag.String("log", "", "日志文件路径")
	logLevel = flag.String("log-level", "", "日志级别 (debug/info/warn/error)")

	showVersion = flag.Bool("version", false, "显示版本信息")
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(cube.VersionInfo())
		return nil
	}

	closeLog, err := setupLogging()
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, rt, err := buildConfig()
	if err != nil {
		return fmt.Errorf("配置错误: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	fmt.Printf("📦 %s\n", cube.VersionInfo())
	logger.Info("启动演示", "backend", cfg.Transport.Backend, "clients", rt.clients, "crates", *crates)

	d, err := newDemo(ctx, cfg, rt)
	if err != nil {
		return err
	}
	defer d.close()

	if err := d.srv.Run(ctx, d.update); err != nil {
		return fmt.Errorf("运行失败: %w", err)
	}
	d.report()
	return nil
}

// buildConfig 合并配置文件、环境变量与命令行参数
//
// 优先级（从高到低）：命令行参数 > 环境变量 > 配置文件 > 默认值
func buildConfig() (*config.Config, *runtimeConfig, error) {
	cfg, err := loadConfig(*configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置文件失败: %w", err)
	}
	rt := &runtimeConfig{clients: *clients}
	applyEnvOverrides(cfg, rt)

	if isFlagSet("preset") {
		rt.preset = *preset
	}
	if err := config.ApplyPreset(cfg, rt.preset); err != nil {
		return nil, nil, err
	}
	if isFlagSet("clients") {
		rt.clients = *clients
	}
	if *transportName != "" {
		cfg.Transport.Backend = *transportName
	}
	if *address != "" {
		cfg.Transport.Address = *address
	}
	if cfg.Transport.Backend == config.BackendLoopback && cfg.Transport.Address == "" {
		cfg.Transport.Address = "demo"
	}
	return cfg, rt, config.ValidateAll(cfg)
}

// isFlagSet 检查命令行参数是否被显式设置
func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// setupLogging 设置日志输出与级别
func setupLogging() (func(), error) {
	if *logLevel != "" {
		log.SetLevel(log.ParseLevel(*logLevel))
	}
	if *logFile == "" {
		return func() {}, nil
	}
	f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	log.SetOutput(f)
	return func() { _ = f.Close() }, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// 演示世界
// ═══════════════════════════════════════════════════════════════════════════

// demo 服务端、机器人与共享的世界状态
type demo struct {
	cfg      *config.Config
	srv      *cube.Server
	registry *prometheus.Registry
	bots     []*bot
	crates   []*cube.Replica
	avatars  map[cube.ConnectionID]*cube.Replica
	rng      *rand.Rand
	tick     int
}

// bot 机器人客户端
type bot struct {
	name   string
	client *cube.Client
}

func newDemo(ctx context.Context, cfg *config.Config, rt *runtimeConfig) (*demo, error) {
	d := &demo{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		avatars:  make(map[cube.ConnectionID]*cube.Replica),
		rng:      rand.New(rand.NewSource(*seed)),
	}

	var network *loopback.Network
	if cfg.Transport.Backend == config.BackendLoopback {
		network = loopback.NewNetwork(nil)
	}

	srv, err := cube.StartServer(ctx, cfg.Transport.Address,
		cube.WithConfig(cfg),
		cube.WithLoopbackNetwork(network),
		cube.WithFactory(serverFactory()),
		cube.WithMetricsRegisterer(d.registry),
		cube.WithApprover(approve),
	)
	if err != nil {
		return nil, err
	}
	d.srv = srv
	srv.SetNotifiee(&cube.ServerNotifyBundle{
		ConnectedF:    d.spawnAvatar,
		DisconnectedF: d.despawnAvatar,
		NetworkErrorF: func(err error) { logger.Warn("服务端网络错误", "error", err) },
	})

	for i := 0; i < *crates; i++ {
		r, err := srv.Instantiate(templateCrate)
		if err != nil {
			d.close()
			return nil, err
		}
		d.crates = append(d.crates, r)
	}

	// 客户端不注册指标，避免与服务端计数混在一起
	ccfg := config.CloneConfig(cfg)
	ccfg.Metrics.Enabled = false
	for i := 0; i < rt.clients; i++ {
		b := &bot{name: fmt.Sprintf("bot-%d", i)}
		c, err := cube.NewClient(
			cube.WithConfig(ccfg),
			cube.WithLoopbackNetwork(network),
			cube.WithFactory(clientFactory()),
		)
		if err != nil {
			d.close()
			return nil, err
		}
		b.client = c
		d.bots = append(d.bots, b)

		hail, err := cube.EncodeHail(map[string]any{"name": b.name})
		if err != nil {
			d.close()
			return nil, err
		}
		if err := c.Connect(ctx, srv.Addr(), hail); err != nil {
			d.close()
			return nil, fmt.Errorf("%s: %w", b.name, err)
		}
	}
	return d, nil
}

// approve 只接受带名字的握手
func approve(_ cube.ConnectionID, hail []byte) cube.Approval {
	fields, err := cube.DecodeHail(hail)
	if err != nil {
		return cube.Deny("bad hail")
	}
	if name, _ := fields["name"].(string); name == "" {
		return cube.Deny("name required")
	}
	return cube.Accept()
}

func (d *demo) spawnAvatar(conn cube.ConnectionID) {
	r, err := d.srv.Instantiate(templateAvatar)
	if err != nil {
		logger.Warn("创建化身失败", "conn", conn, "error", err)
		return
	}
	r.SetOwner(conn)
	d.avatars[conn] = r
	if err := d.srv.FollowReplica(conn, r); err != nil {
		logger.Warn("跟随化身失败", "conn", conn, "error", err)
	}
}

func (d *demo) despawnAvatar(conn cube.ConnectionID, reason string) {
	r, ok := d.avatars[conn]
	if !ok {
		return
	}
	delete(d.avatars, conn)
	if err := d.srv.Destroy(r); err != nil {
		logger.Warn("销毁化身失败", "conn", conn, "error", err)
	}
	logger.Info("客户端离开", "conn", conn, "reason", reason)
}

// update 服务端 tick 之前推进世界与全部机器人
func (d *demo) update() error {
	d.tick++
	t := float64(d.tick) / float64(d.cfg.Server.TickRate)
	for i, r := range d.crates {
		angle := t*0.5 + float64(i)*2*math.Pi/float64(len(d.crates))
		radius := 40 + float64(i%8)*15
		r.SetPosition(cube.Vec3{
			X: float32(radius * math.Cos(angle)),
			Z: float32(radius * math.Sin(angle)),
		})
	}

	for _, b := range d.bots {
		if err := b.client.Tick(); err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
		if d.tick%10 == 0 {
			d.steer(b)
		}
	}
	return nil
}

// steer 机器人随机操控自己的化身
func (d *demo) steer(b *bot) {
	for _, r := range b.client.Owned() {
		args := cube.NewBitStream(8)
		args.WriteFloat32(float32(d.rng.Float64()*2 - 1))
		args.WriteFloat32(float32(d.rng.Float64()*2 - 1))
		if err := b.client.SendRPC(r, methodSteer, args, cube.ReliableOrdered); err != nil {
			logger.Debug("发送操控失败", "bot", b.name, "error", err)
		}
	}
}

func (d *demo) close() {
	for _, b := range d.bots {
		if err := b.client.Close(); err != nil {
			logger.Warn("关闭客户端失败", "bot", b.name, "error", err)
		}
	}
	if d.srv != nil {
		if err := d.srv.Close(); err != nil {
			logger.Warn("关闭服务端失败", "error", err)
		}
	}
}

// report 打印每个机器人看到的镜像数与服务端指标
func (d *demo) report() {
	fmt.Printf("\n服务端副本: %d  连接: %d  tick: %d\n", d.srv.ReplicaCount(), len(d.srv.Connections()), d.tick)
	for _, b := range d.bots {
		fmt.Printf("  %-8s session=%s 镜像=%d 拥有=%d\n",
			b.name, b.client.Session(), b.client.ReplicaCount(), len(b.client.Owned()))
	}

	families, err := d.registry.Gather()
	if err != nil {
		logger.Warn("收集指标失败", "error", err)
		return
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	fmt.Println("\n指标:")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				fmt.Printf("  %-48s %v\n", mf.GetName(), c.GetValue())
			}
		}
	}
}
