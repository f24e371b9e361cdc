package replication

import (
	"time"

	"golang.org/x/time/rate"
)

// newLimiter 每秒字节上限，<= 0 时返回 nil
//
// 突发量取四分之一秒的配额，且至少容纳一条完整的更新消息。
func newLimiter(bytesPerSecond, maxMessageBytes int) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := bytesPerSecond / 4
	if burst < maxMessageBytes {
		burst = maxMessageBytes
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// tickBudget 单个观察者在一个 tick 内的剩余预算
type tickBudget struct {
	bits    int
	objects int
}

func newTickBudget(cfg ServerConfig, limiter *rate.Limiter, now time.Time) tickBudget {
	bytes := cfg.MaxBytesPerTick
	if limiter != nil {
		if avail := int(limiter.TokensAt(now)); avail < bytes {
			bytes = avail
		}
	}
	if bytes < 0 {
		bytes = 0
	}
	return tickBudget{bits: bytes * 8, objects: cfg.MaxObjectsPerTick}
}

// take 预算足够时扣除并返回 true
func (b *tickBudget) take(bits int) bool {
	if b.objects <= 0 || bits > b.bits {
		return false
	}
	b.bits -= bits
	b.objects--
	return true
}

// consume 从速率限制器中扣除实际发送的字节
func consume(limiter *rate.Limiter, now time.Time, bytes int) {
	if limiter == nil || bytes <= 0 {
		return
	}
	limiter.AllowN(now, bytes)
}
