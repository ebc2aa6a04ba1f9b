// Package response is the JSON envelope shared by every handler,
// grounded on the teacher's internal/http/response.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/stackrun/internal/platform/apierr"
	"github.com/yungbote/stackrun/internal/platform/ctxutil"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error     APIError `json:"error"`
	TraceID   string   `json:"trace_id,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, gin.H{"data": payload})
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, gin.H{"data": payload})
}

// RespondError writes an ErrorEnvelope. If err is an *apierr.Error its
// Status/Code drive the response; otherwise status/code are taken from
// the caller's fallback arguments.
func RespondError(c *gin.Context, status int, code string, err error) {
	if ae, ok := err.(*apierr.Error); ok {
		status, code = ae.Status, ae.Code
	}
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	td := ctxutil.GetTraceData(c.Request.Context())
	var traceID, requestID string
	if td != nil {
		traceID, requestID = td.TraceID, td.RequestID
	}

	c.JSON(status, ErrorEnvelope{
		Error:     APIError{Message: msg, Code: code},
		TraceID:   traceID,
		RequestID: requestID,
	})
}
