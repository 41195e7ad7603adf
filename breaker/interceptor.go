package breaker

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryClientInterceptor 以 cc.Target() 为键保护一元调用
//
// 熔断打开时返回 codes.Unavailable，便于上层按 gRPC 语义重试。
func (cb *circuitBreaker) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		key := method
		if cc != nil {
			key = cc.Target()
		}

		var callErr error
		err := cb.Do(ctx, key, func() error {
			callErr = invoker(ctx, method, req, reply, cc, opts...)
			if isServerFault(callErr) {
				return callErr
			}
			return nil
		})
		if err != nil && callErr == nil {
			return status.Error(codes.Unavailable, err.Error())
		}
		return callErr
	}
}

// isServerFault 仅将服务端不可用类错误计入熔断统计
func isServerFault(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal, codes.Unknown:
		return true
	default:
		return false
	}
}
