package market

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyFeed       = errors.New("no bars")
	ErrOutOfOrder      = errors.New("timestamps not strictly increasing")
	ErrInvalidBar      = errors.New("invalid bar")
	ErrUnknownInterval = errors.New("unknown interval")
)

// DataError 表示 K 线数据缺失或非法，在回测循环开始前终止运行。
type DataError struct {
	Op     string
	Symbol string
	// Index is the offending bar position, -1 when not bar specific.
	Index int
	Err   error
}

func (e *DataError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "data error"
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.Symbol != "" {
		msg += " " + e.Symbol
	}
	if e.Index >= 0 {
		msg += fmt.Sprintf(" at bar %d", e.Index)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *DataError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewDataError wraps err unless it already is a DataError.
func NewDataError(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	var de *DataError
	if errors.As(err, &de) {
		return err
	}
	return &DataError{Op: op, Symbol: symbol, Index: -1, Err: err}
}

// IsDataError reports whether err carries a DataError.
func IsDataError(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}
