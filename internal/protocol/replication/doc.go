// Package replication 实现服务端与客户端副本管理器
//
// 服务端 (Server) 持有权威注册表，每个 tick 为每个观察者按优先级排序副本，
// 在字节 / 对象预算内把状态写入更新消息，经不可靠有序通道发送；
// 销毁以批量消息可靠广播；RPC 按副本 ID 路由到拥有者。
//
// 客户端 (Client) 维护镜像注册表：收到未知动态 ID 的更新时经模板查找
// 实例化镜像，按服务端写入顺序反序列化各组件；超过不活跃超时的非场景镜像
// 在本地销毁；显式销毁立即移除并留下墓碑，迟到的更新不会复活该 ID。
//
// 更新消息格式：
//
//	type(8) | count(16) | entry...
//	entry = owned(1) | scene(1) | [template(16)] | id(16) | bits(16) | payload(bits)
//
// 销毁消息：type(8) | count(16) | id(16)...
//
// RPC 消息：type(8) | id(16) | method(8) | bits(16) | args(bits)
//
// 两侧都是单线程模型：所有方法只能在 tick 线程中调用。
package replication
