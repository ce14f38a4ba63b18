package georoute

import (
	"context"
)

// Resolver 是数据访问层暴露给重定向热路径的唯一能力。
//
// 约定：
// - 链接不存在（或已禁用）返回 (nil, nil)，这是正常结果，不是错误
// - error 只表示基础设施故障（DB / Redis 不可用等）
// - 必须是一次单点查询，不能 fan-out
//
// 设计原因：
// - 上层（HTTP）只依赖接口：测试里用内存实现即可，不需要起 Postgres
type Resolver interface {
	GetRoutingDestinations(ctx context.Context, linkID string) (*RoutingDestinationSet, error)
}

// ResolverFunc 让普通函数满足 Resolver。
type ResolverFunc func(ctx context.Context, linkID string) (*RoutingDestinationSet, error)

func (f ResolverFunc) GetRoutingDestinations(ctx context.Context, linkID string) (*RoutingDestinationSet, error) {
	return f(ctx, linkID)
}
