package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidRequest 请求参数非法（无地块、比例非正等）
	ErrInvalidRequest = errors.New("invalid reservation request")
	// ErrPlotNotFound 存在无法解析的地块名称
	ErrPlotNotFound = errors.New("plot not found")
	// ErrApplyFailed 写入失败，事务已回滚，没有任何树被预留
	ErrApplyFailed = errors.New("reservation apply failed")
	// ErrApplyUnknown 提交阶段超时或断连，写入结果未知，重试前必须核对库存
	ErrApplyUnknown = errors.New("reservation apply outcome unknown")
	// ErrTimeout 开启事务前已超时，没有写入
	ErrTimeout = errors.New("reservation run timed out before apply")
	// ErrCanceled 开启事务前被取消（SIGINT / SIGTERM），没有写入
	ErrCanceled = errors.New("reservation run canceled before apply")
)

// Interrupted wraps err with ErrTimeout or ErrCanceled when ctx has ended.
// Only valid before the apply transaction begins.
func Interrupted(ctx context.Context, err error) error {
	switch {
	case ctx.Err() == nil, errors.Is(err, ErrTimeout), errors.Is(err, ErrCanceled):
		return err
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	default:
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
}

// PlotNotFoundError lists every plot name that did not resolve.
type PlotNotFoundError struct {
	Names []string
}

func (e *PlotNotFoundError) Error() string {
	return "plot name(s) not found: " + strings.Join(e.Names, ", ")
}

// Is makes errors.Is(err, ErrPlotNotFound) hold.
func (e *PlotNotFoundError) Is(target error) bool {
	return target == ErrPlotNotFound
}
