package adapters

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/videorag/types"
)

// =============================================================================
// 🛡️ 适配器弹性层：限流 + 超时 + 指数退避重试
// =============================================================================

// ResilienceConfig 单个适配器调用的弹性参数
type ResilienceConfig struct {
	MaxAttempts  int           // 最大尝试次数（含首次）
	InitialDelay time.Duration // 首次重试延迟
	MaxDelay     time.Duration // 重试延迟上限
	Multiplier   float64       // 退避倍数
	JitterFactor float64       // 抖动系数 [0,1]
	CallTimeout  time.Duration // 单次调用超时
	RateLimit    rate.Limit    // 每秒调用数上限，0 表示不限
	RateBurst    int
}

// DefaultResilienceConfig 默认弹性参数
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		MaxAttempts:  3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
		CallTimeout:  5 * time.Second,
	}
}

// Invoker 包装适配器调用，统一施加限流、超时与重试
type Invoker struct {
	cfg     ResilienceConfig
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewInvoker 创建弹性调用器
func NewInvoker(cfg ResilienceConfig, logger *zap.Logger) *Invoker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return &Invoker{cfg: cfg, limiter: limiter, logger: logger}
}

// Invoke 执行一次带弹性保障的适配器调用。
// 仅对可重试错误（超时、适配器不可用）进行退避重试。
func Invoke[T any](ctx context.Context, inv *Invoker, adapter string, fn func(context.Context) (T, float64, error)) (T, float64, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= inv.cfg.MaxAttempts; attempt++ {
		if inv.limiter != nil {
			if err := inv.limiter.Wait(ctx); err != nil {
				return zero, 0, types.NewError(types.ErrAdapterUnavailable, "rate limiter aborted").WithCause(err)
			}
		}

		callCtx := ctx
		cancel := func() {}
		if inv.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, inv.cfg.CallTimeout)
		}
		result, confidence, err := fn(callCtx)
		cancel()

		if err == nil {
			return result, confidence, nil
		}

		if errors.Is(err, context.DeadlineExceeded) {
			err = types.NewError(types.ErrAdapterTimeout, adapter+" call timed out").WithCause(err).WithRetryable(true)
		}
		lastErr = err

		if !types.IsRetryable(err) || attempt == inv.cfg.MaxAttempts {
			break
		}
		delay := inv.backoff(attempt)
		inv.logger.Warn("适配器调用失败，退避重试",
			zap.String("adapter", adapter),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return zero, 0, types.NewError(types.ErrAdapterUnavailable, adapter+" aborted by context").WithCause(ctx.Err())
		case <-time.After(delay):
		}
	}

	return zero, 0, lastErr
}

// backoff 计算第 attempt 次失败后的延迟（指数退避 + 抖动）
func (inv *Invoker) backoff(attempt int) time.Duration {
	delay := float64(inv.cfg.InitialDelay) * math.Pow(inv.cfg.Multiplier, float64(attempt-1))
	if max := float64(inv.cfg.MaxDelay); max > 0 && delay > max {
		delay = max
	}
	if inv.cfg.JitterFactor > 0 {
		jitterSpan := delay * inv.cfg.JitterFactor
		delay += (rand.Float64()*2 - 1) * jitterSpan
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
