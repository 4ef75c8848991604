package service

import "context"

type contextKey string

const operatorKey contextKey = "operator"

// OperatorInfo identifies the admin behind a request.
type OperatorInfo struct {
	UserID string
	Name   string
	Role   string
	// request metadata for the audit trail
	TraceID string
	IP      string
}

func WithOperator(ctx context.Context, op *OperatorInfo) context.Context {
	return context.WithValue(ctx, operatorKey, op)
}

func GetOperatorInfo(ctx context.Context) *OperatorInfo {
	val, ok := ctx.Value(operatorKey).(*OperatorInfo)
	if !ok {
		return nil
	}
	return val
}

// GetOperator returns the operator name, or "system" for background work.
func GetOperator(ctx context.Context) string {
	op := GetOperatorInfo(ctx)
	if op == nil {
		return "system"
	}
	return op.Name
}
