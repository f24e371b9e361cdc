// Package replica 定义被复制对象
//
// Replica 持有：
//   - 稳定 ID（场景副本为场景索引，动态副本由服务端分配）
//   - 场景 / 动态标志与预制体索引
//   - 拥有者（服务端为连接，客户端为布尔标志）
//   - 位置与优先级参数（Settings）
//   - 有序的状态组件列表，注册后封存
//   - 方法号 → RPC 处理器表
//
// 引擎侧的对象创建与销毁通过 Factory 注入，模板查找通过 TemplateLookup 注入，
// 两者都作为显式依赖传入管理器，没有全局状态。
package replica
