// Package cube 提供服务端权威的游戏对象状态复制
//
// 服务端持有权威副本（Replica），每个 tick 按优先级与带宽预算
// 把副本状态发送给各个观察者；客户端维护镜像，应用更新、
// 执行销毁、超时清理长时间未更新的镜像，并可与服务端互发 RPC。
//
// # 核心概念
//
//   - Replica: 可复制对象，由有序的组件（Component）组成
//   - Server: 权威端，副本注册表 + 每观察者的调度
//   - Client: 镜像端，按模板索引实例化镜像
//   - Transport: 可插拔传输（loopback / quic / websocket），5 种可靠性等级，32 个通道
//
// # 快速开始
//
//	import "github.com/dep2p/go-cube"
//
//	factory := &cube.FactoryBundle{
//	    CreateF: func(index uint16, _ any) (*cube.Replica, error) {
//	        r := cube.NewReplica(index)
//	        return r, r.AddComponent(cube.NewTransform(r))
//	    },
//	}
//
//	// 服务端
//	srv, err := cube.StartServer(ctx, ":7777", cube.WithFactory(factory))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Close()
//	crate, _ := srv.Instantiate(1)
//	go srv.Run(ctx, nil)
//
//	// 客户端
//	cli, _ := cube.NewClient(cube.WithFactory(factory))
//	_ = cli.Connect(ctx, "127.0.0.1:7777", nil)
//	go cli.Run(ctx, nil)
//
// # API 层次结构
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  1. API Layer                                               │
//	│     cube.NewServer(), cube.NewClient(), WithXxx 选项         │
//	├─────────────────────────────────────────────────────────────┤
//	│  2. Protocol Layer                                          │
//	│     Replication (Server / Client), Reactor                  │
//	├─────────────────────────────────────────────────────────────┤
//	│  3. Core Layer                                              │
//	│     Transport, Replica, Scene, Priority, Metrics            │
//	└─────────────────────────────────────────────────────────────┘
//
// # 文件组织
//
//	cube/
//	├── doc.go        # 包文档
//	├── version.go    # 版本信息
//	├── server.go     # Server：生命周期、副本、观察者、RPC
//	├── client.go     # Client：连接、镜像、RPC
//	├── options.go    # WithXxx 配置选项
//	├── fx.go         # Fx 模块装配
//	├── types.go      # 状态、预设、类型别名
//	└── errors.go     # 错误定义
//
// # 预设配置
//
//	cube.PresetLAN       局域网，60Hz，大预算
//	cube.PresetInternet  公网，30Hz，启用每秒字节上限
//	cube.PresetTest      loopback 后端，无延迟，关闭指标
package cube
