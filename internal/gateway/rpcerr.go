package gateway

import "github.com/gotd/td/tgerr"

// rpcError — подмножество полей tgerr.Error, нужное classifyRPCError.
type rpcError struct {
	Type     string
	Argument int
}

func asRPCError(err error) (rpcError, bool) {
	tgErr, ok := tgerr.As(err)
	if !ok {
		return rpcError{}, false
	}
	return rpcError{Type: tgErr.Type, Argument: tgErr.Argument}, true
}
