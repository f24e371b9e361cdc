// Package loopback 实现进程内传输后端
//
// 客户端与服务端位于同一进程，通过共享的 Network 互相寻址。
// 数据包在 Send 时直接拷贝进对端的入站队列，没有后台 goroutine，
// 配合 mock 时钟可以得到完全确定的测试结果。
//
// 可选的延迟模拟在接收端生效，规则与网络后端一致：
// 丢包与重复只作用于不可靠等级，有序等级不会被重排。
package loopback
