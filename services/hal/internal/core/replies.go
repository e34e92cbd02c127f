package core

import (
	"errors"

	"envnode-go/bus"
	"envnode-go/errcode"
	"envnode-go/types"
)

func (h *HAL) replyOK(m *bus.Message) {
	if m.CanReply() {
		h.conn.Reply(m, types.OKReply{OK: true}, false)
	}
}

func (h *HAL) replyErr(m *bus.Message, code errcode.Code) {
	if !m.CanReply() {
		return
	}
	if code == "" {
		code = errcode.Error
	}
	h.conn.Reply(m, types.ErrorReply{OK: false, Error: string(code)}, false)
}

// replyFromError maps build/claim errors onto reply codes.
func (h *HAL) replyFromError(m *bus.Message, err error) {
	switch {
	case errors.Is(err, ErrUnknownPin):
		h.replyErr(m, errcode.UnknownPin)
	case errors.Is(err, ErrPinInUse):
		h.replyErr(m, errcode.PinInUse)
	case errors.Is(err, ErrUnsupported):
		h.replyErr(m, errcode.Unsupported)
	default:
		h.replyErr(m, errcode.Of(err))
	}
}
