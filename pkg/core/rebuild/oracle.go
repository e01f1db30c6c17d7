package rebuild

import (
	"context"

	"github.com/LENAX/build-coordinator/pkg/core/types"
)

// Oracle 提供配置最近一次成功构建的指纹（由持久化存储支撑）
// 从未成功构建过时返回 ok=false，而不是错误
type Oracle interface {
	LastSuccessfulFingerprint(ctx context.Context, configID string) (fp types.Fingerprint, ok bool, err error)
}

// OracleFunc 函数适配器
type OracleFunc func(ctx context.Context, configID string) (types.Fingerprint, bool, error)

// LastSuccessfulFingerprint 实现 Oracle
func (f OracleFunc) LastSuccessfulFingerprint(ctx context.Context, configID string) (types.Fingerprint, bool, error) {
	return f(ctx, configID)
}

// StaticOracle 固定指纹表（用于离线计划与测试）
type StaticOracle map[string]types.Fingerprint

// LastSuccessfulFingerprint 实现 Oracle
func (o StaticOracle) LastSuccessfulFingerprint(_ context.Context, configID string) (types.Fingerprint, bool, error) {
	fp, ok := o[configID]
	return fp, ok, nil
}
