package broker

import (
	"errors"
	"fmt"
)

var (
	ErrMargin       = errors.New("insufficient cash")
	ErrPendingOrder = errors.New("an order is already pending")
	ErrInvalidSize  = errors.New("invalid order size")
	ErrExhausted    = errors.New("feed exhausted before fill")
)

// MarginError 资金不足，订单转入 Margin 终态，账户不变。
type MarginError struct {
	Required  float64
	Available float64
}

func (e *MarginError) Error() string {
	return fmt.Sprintf("insufficient cash: required %.4f, available %.4f", e.Required, e.Available)
}

func (e *MarginError) Is(target error) bool { return target == ErrMargin }
