package handlers

import (
	"net/http"

	"github.com/vango-go/vai-dealroom/pkg/core"
	"github.com/vango-go/vai-dealroom/pkg/gateway/apierror"
	"github.com/vango-go/vai-dealroom/pkg/gateway/mw"
)

// writeError maps err to a status and writes the {error} envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	apierror.Write(w, status, coreErr)
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	w.Header().Set("Allow", allow)
	apierror.Write(w, http.StatusMethodNotAllowed, &core.Error{
		Type:      core.ErrInvalidRequest,
		Message:   "method not allowed",
		RequestID: reqID,
	})
}
