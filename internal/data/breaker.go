package data

import (
	"sync"
	"time"

	"pitsafe/internal/logger"
)

// BreakerState 熔断器状态。
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// 连续失败 5 次熔断，冷却 1 分钟后放行一次探测。
const (
	breakerThreshold = 5
	breakerCooldown  = time.Minute
)

// SourceBreaker 数据源熔断器。
//
// 反复失败的联网源在冷却期内直接跳过，让降级链立刻走下一个源，
// 避免每个模拟日都在同一个故障源上耗尽超时时间。
type SourceBreaker struct {
	mu          sync.Mutex
	name        string
	state       BreakerState
	failures    int
	threshold   int
	cooldown    time.Duration
	lastFailure time.Time
}

func NewSourceBreaker(name string) *SourceBreaker {
	return &SourceBreaker{
		name:      name,
		state:     BreakerClosed,
		threshold: breakerThreshold,
		cooldown:  breakerCooldown,
	}
}

// Allow 返回当前是否放行请求。熔断态冷却结束后转半开放行一次探测。
func (b *SourceBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.lastFailure) > b.cooldown {
			b.transition(BreakerHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess 成功重置计数，半开态回到闭合。
func (b *SourceBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.transition(BreakerClosed)
		b.failures = 0
	case BreakerClosed:
		b.failures = 0
	}
}

// RecordFailure 累计失败，达到阈值或半开态再失败即熔断。
func (b *SourceBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.threshold {
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
	}
}

// State 当前状态（监控用）。
func (b *SourceBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *SourceBreaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	logger.Warnf("[breaker] 数据源 %s 状态切换 %s -> %s (failures=%d/%d)",
		b.name, from, to, b.failures, b.threshold)
}
