package loopback

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"

	pkgif "github.com/dep2p/go-cube/pkg/interfaces"
	"github.com/dep2p/go-cube/pkg/types"
)

// Name 后端名称
const Name = "loopback"

var (
	// ErrNoServer 地址上没有监听的服务端
	ErrNoServer = errors.New("no loopback server at address")

	// ErrAddressInUse 地址已被占用
	ErrAddressInUse = errors.New("loopback address in use")
)

// Network 进程内地址空间
type Network struct {
	mu       sync.Mutex
	clock    clock.Clock
	servers  map[string]*Server
	nextAddr int
}

// NewNetwork 创建地址空间，clk 为 nil 时使用真实时钟
func NewNetwork(clk clock.Clock) *Network {
	if clk == nil {
		clk = clock.New()
	}
	return &Network{
		clock:   clk,
		servers: make(map[string]*Server),
	}
}

// Clock 返回网络使用的时钟
func (n *Network) Clock() clock.Clock {
	return n.clock
}

func (n *Network) listen(addr string, s *Server) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr == "" {
		n.nextAddr++
		addr = fmt.Sprintf("loopback-%d", n.nextAddr)
	}
	if _, ok := n.servers[addr]; ok {
		return "", fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}
	n.servers[addr] = s
	return addr, nil
}

func (n *Network) unlisten(addr string, s *Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.servers[addr] == s {
		delete(n.servers, addr)
	}
}

func (n *Network) lookup(addr string) *Server {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.servers[addr]
}

// ============================================================================
//                              Factory
// ============================================================================

// Factory 创建共享同一 Network 的对端
type Factory struct {
	network *Network
}

var _ pkgif.TransportFactory = (*Factory)(nil)

// NewFactory 创建工厂，network 为 nil 时创建独立的地址空间
func NewFactory(network *Network) *Factory {
	if network == nil {
		network = NewNetwork(nil)
	}
	return &Factory{network: network}
}

// Network 返回工厂使用的地址空间
func (f *Factory) Network() *Network {
	return f.network
}

// Name 实现 TransportFactory
func (f *Factory) Name() string {
	return Name
}

// CreateClient 实现 TransportFactory
func (f *Factory) CreateClient() pkgif.ClientTransport {
	return NewClient(f.network)
}

// CreateServer 实现 TransportFactory
func (f *Factory) CreateServer(maxClients int, lag types.SimulatedLag) pkgif.ServerTransport {
	return NewServer(f.network, maxClients, lag)
}
