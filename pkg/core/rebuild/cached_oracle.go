package rebuild

import (
	"context"
	"time"

	"github.com/LENAX/build-coordinator/pkg/core/cache"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// fingerprintEntry 缓存的查询结果（包括"从未构建"）
type fingerprintEntry struct {
	fp types.Fingerprint
	ok bool
}

// CachedOracle 为 Oracle 增加TTL缓存，避免每次提交都逐个配置查询存储
type CachedOracle struct {
	inner Oracle
	cache *cache.MemoryCache[fingerprintEntry]
	ttl   time.Duration
}

// NewCachedOracle 创建带缓存的 Oracle，ttl<=0 表示条目不过期（依赖 Invalidate 失效）
func NewCachedOracle(inner Oracle, ttl time.Duration) *CachedOracle {
	return NewCachedOracleWithCleanup(inner, ttl, 0)
}

// NewCachedOracleWithCleanup 同 NewCachedOracle，指定过期条目的清理间隔
func NewCachedOracleWithCleanup(inner Oracle, ttl, cleanInterval time.Duration) *CachedOracle {
	return &CachedOracle{
		inner: inner,
		cache: cache.NewMemoryCache[fingerprintEntry](cleanInterval),
		ttl:   ttl,
	}
}

// LastSuccessfulFingerprint 实现 Oracle，错误不缓存
func (o *CachedOracle) LastSuccessfulFingerprint(ctx context.Context, configID string) (types.Fingerprint, bool, error) {
	if e, hit := o.cache.Get(configID); hit {
		return e.fp, e.ok, nil
	}
	fp, ok, err := o.inner.LastSuccessfulFingerprint(ctx, configID)
	if err != nil {
		return "", false, err
	}
	o.cache.Set(configID, fingerprintEntry{fp: fp, ok: ok}, o.ttl)
	return fp, ok, nil
}

// Invalidate 失效单个配置的缓存（新的成功结果入库后调用）
func (o *CachedOracle) Invalidate(configID string) {
	o.cache.Delete(configID)
}

// Close 停止缓存清理协程
func (o *CachedOracle) Close() {
	o.cache.Close()
}
