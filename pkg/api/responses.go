package api

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/maestro-deploy/maestro/pkg/appregistry"
	"github.com/maestro-deploy/maestro/pkg/control"
)

// jsonResponse writes result as a 200 JSON body, mirroring
// pkg/http/transport.go's JSONResponse.
func jsonResponse(w http.ResponseWriter, result interface{}) {
	body, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// writeError writes a plain {"error": "..."} body at the given status,
// the error-envelope half of pkg/http/transport.go's WriteError,
// simplified to JSON-only since Maestro's API has no legacy
// text/plain-only client to accommodate.
func writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{err.Error()})
}

// errorResponse classifies err by cause and writes the matching status,
// mirroring pkg/http/transport.go's ErrorResponse but switching on this
// package's own sentinel errors instead of fluxerr.Type.
func errorResponse(w http.ResponseWriter, err error) {
	switch errors.Cause(err) {
	case control.ErrLocked:
		writeError(w, http.StatusConflict, err)
	case control.ErrAlreadyInProgress:
		writeError(w, http.StatusConflict, err)
	case control.ErrInvalidApplicationName, appregistry.ErrInvalidName:
		writeError(w, http.StatusBadRequest, err)
	case errNotFound:
		writeError(w, http.StatusNotFound, err)
	case errBadRequest:
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// errNotFound and errBadRequest are sentinels handlers wrap their own
// validation/lookup failures in so errorResponse can classify them
// without each handler choosing a status code itself.
var (
	errNotFound   = errors.New("not found")
	errBadRequest = errors.New("bad request")
)
