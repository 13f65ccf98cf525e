package ledger

import "errors"

var (
	// ErrTerminalRecord is returned by Put when the pair already holds a
	// matched or not_matched outcome.
	ErrTerminalRecord = errors.New("evaluation already terminal")
)
