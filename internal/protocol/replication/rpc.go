package replication

import (
	"errors"
	"fmt"

	"github.com/dep2p/go-cube/internal/core/metrics"
	"github.com/dep2p/go-cube/internal/core/replica"
	"github.com/dep2p/go-cube/pkg/lib/bitstream"
	"github.com/dep2p/go-cube/pkg/types"
)

// ============================================================================
//                              服务端 → 客户端
// ============================================================================

// SendRPC 调用副本拥有者客户端上的方法
func (s *Server) SendRPC(r *replica.Replica, method uint8, args *bitstream.BitStream, rel types.Reliability) error {
	if r == nil || !r.Owner().IsValid() {
		return fmt.Errorf("%w: %s", ErrNoOwner, r)
	}
	return s.SendRPCTo(r.Owner(), r, method, args, rel)
}

// SendRPCTo 调用指定客户端上的方法
func (s *Server) SendRPCTo(conn types.ConnectionID, r *replica.Replica, method uint8, args *bitstream.BitStream, rel types.Reliability) error {
	data, err := s.encodeRPC(r, method, args)
	if err != nil {
		return err
	}
	if err := s.transport.Send(conn, data, rel, s.cfg.RPCChannel); err != nil {
		s.collector.SendErrors.Inc()
		return fmt.Errorf("send rpc %s/%d to %s: %w", r, method, conn, err)
	}
	s.logSent(conn, types.MessageTypeReplicaRpc, len(data))
	s.collector.RPCsSent.Inc()
	return nil
}

// BroadcastRPC 调用所有客户端上的方法
func (s *Server) BroadcastRPC(r *replica.Replica, method uint8, args *bitstream.BitStream, rel types.Reliability) error {
	data, err := s.encodeRPC(r, method, args)
	if err != nil {
		return err
	}
	if err := s.transport.Broadcast(data, rel, s.cfg.RPCChannel); err != nil {
		s.collector.SendErrors.Inc()
		return fmt.Errorf("broadcast rpc %s/%d: %w", r, method, err)
	}
	s.logSent(types.InvalidConnectionID, types.MessageTypeReplicaRpc, len(data))
	s.collector.RPCsSent.Inc()
	return nil
}

func (s *Server) encodeRPC(r *replica.Replica, method uint8, args *bitstream.BitStream) ([]byte, error) {
	if r == nil {
		return nil, ErrUnknownReplica
	}
	if got, ok := s.scene.Get(r.ID()); !ok || got != r {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReplica, r)
	}
	return encodeRPC(r.ID(), method, args)
}

// handleRPC 客户端发来的调用，只接受副本拥有者的调用
func (s *Server) handleRPC(conn types.ConnectionID, msg *bitstream.BitStream) error {
	call, err := decodeRPC(msg)
	if err != nil {
		s.collector.Drop(metrics.DropMalformed)
		return err
	}
	r, ok := s.scene.Get(call.id)
	if !ok {
		s.collector.Drop(metrics.DropUnknownReplica)
		logger.Debug("RPC 目标不存在，丢弃", "replica", call.id, "conn", conn)
		return nil
	}
	if r.Owner() != conn {
		s.collector.Drop(metrics.DropNotOwner)
		logger.Warn("非拥有者的 RPC，丢弃", "replica", r, "conn", conn, "owner", r.Owner())
		return fmt.Errorf("%w: %s from %s", ErrNotOwner, r, conn)
	}
	return invoke(r, call, conn, s.collector)
}

// ============================================================================
//                              客户端 → 服务端
// ============================================================================

// SendRPC 调用服务端副本上的方法，只有拥有者可以调用
func (c *Client) SendRPC(r *replica.Replica, method uint8, args *bitstream.BitStream, rel types.Reliability) error {
	if r == nil {
		return ErrUnknownReplica
	}
	if got, ok := c.scene.Get(r.ID()); !ok || got != r {
		return fmt.Errorf("%w: %s", ErrUnknownReplica, r)
	}
	if !r.IsOwner() {
		return fmt.Errorf("%w: %s", ErrNotOwner, r)
	}
	data, err := encodeRPC(r.ID(), method, args)
	if err != nil {
		return err
	}
	if err := c.transport.Send(data, rel, c.cfg.RPCChannel); err != nil {
		c.collector.SendErrors.Inc()
		return fmt.Errorf("send rpc %s/%d: %w", r, method, err)
	}
	c.reporter.LogSent(types.InvalidConnectionID, types.MessageTypeReplicaRpc, int64(len(data)))
	c.collector.BytesSent.WithLabelValues(types.MessageTypeReplicaRpc.String()).Add(float64(len(data)))
	c.collector.RPCsSent.Inc()
	return nil
}

// handleRPC 服务端发来的调用，本地镜像不存在时丢弃
func (c *Client) handleRPC(msg *bitstream.BitStream) error {
	call, err := decodeRPC(msg)
	if err != nil {
		c.collector.Drop(metrics.DropMalformed)
		return err
	}
	r, ok := c.scene.Get(call.id)
	if !ok {
		c.collector.Drop(metrics.DropUnknownReplica)
		logger.Debug("RPC 目标镜像不存在，丢弃", "replica", call.id)
		return nil
	}
	return invoke(r, call, types.InvalidConnectionID, c.collector)
}

func invoke(r *replica.Replica, call rpcCall, from types.ConnectionID, col *metrics.Collector) error {
	if err := r.InvokeRPC(call.method, from, call.args); err != nil {
		if errors.Is(err, replica.ErrUnknownRPC) {
			col.Drop(metrics.DropUnknownRPC)
		}
		return err
	}
	col.RPCsReceived.Inc()
	return nil
}
