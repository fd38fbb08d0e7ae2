// Package response shapes every API reply as the {code, message, data}
// envelope emitted by the proxyutil helpers. Handlers and middleware go
// through Success/Error instead of writing JSON themselves, so task and
// document payloads always arrive under the same envelope.
package response

import (
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"
)

// codeErr carries an errcode value alongside its message; proxyutil folds
// both into the envelope's code and message fields.
type codeErr struct {
	code uint32
	msg  string
}

func (e codeErr) Error() string {
	return e.msg
}

func (e codeErr) Code() uint32 {
	return e.code
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

// Error answers with a non-zero errcode. The HTTP status stays 200; clients
// dispatch on the envelope code, not the transport status.
func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, 200, codeErr{code: uint32(code), msg: message})
}
