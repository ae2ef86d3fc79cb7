// Package rpc implements point-to-point method calls between participants:
// outbound calls ride the correlation layer, inbound invocations run
// concurrently, never behind the ordered room-event queue.
package rpc

import "fmt"

// Built-in error codes. 1400s are protocol-level rejections, 1500s are
// execution failures.
const (
	CodeUnsupportedMethod     uint32 = 1400
	CodeRecipientNotFound     uint32 = 1401
	CodeApplicationError      uint32 = 1500
	CodeConnectionTimeout     uint32 = 1501
	CodeResponseTimeout       uint32 = 1502
	CodeRecipientDisconnected uint32 = 1503
)

// Error is the structured failure returned by a remote peer or raised by a
// local handler. Handlers returning *Error pass it to the caller verbatim;
// any other failure is collapsed into a generic application error.
type Error struct {
	Code    uint32
	Message string
	Data    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func NewError(code uint32, message string, data string) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

func errUnsupportedMethod(method string) *Error {
	return &Error{Code: CodeUnsupportedMethod, Message: fmt.Sprintf("unsupported method: %s", method)}
}

func errApplication() *Error {
	return &Error{Code: CodeApplicationError, Message: "application error in method handler"}
}

func errResponseTimeout() *Error {
	return &Error{Code: CodeResponseTimeout, Message: "response timeout"}
}
