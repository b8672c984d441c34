package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
)

// Codes produced by the HTTP layer itself.
const (
	codeUnauthenticated = "UNAUTHENTICATED"
	codeInvalidRequest  = "INVALID_REQUEST"
)

// errInvalidRequest marks malformed bodies and query parameters.
var errInvalidRequest = errors.New("invalid request")

var statusByCode = map[string]int{
	model.CodeInvalidOrder:       http.StatusBadRequest,
	model.CodeInvalidLeague:      http.StatusBadRequest,
	model.CodeInvalidSnapshot:    http.StatusBadRequest,
	model.CodeNotManager:         http.StatusForbidden,
	model.CodeLeagueNotFound:     http.StatusNotFound,
	model.CodeSymbolNotFound:     http.StatusNotFound,
	model.CodeNoPriceData:        http.StatusNotFound,
	model.CodeNotAMember:         http.StatusNotFound,
	model.CodeAlreadyInLeague:    http.StatusConflict,
	model.CodeLeagueFull:         http.StatusConflict,
	model.CodeLeagueNotJoinable:  http.StatusConflict,
	model.CodeInvalidTransition:  http.StatusConflict,
	model.CodeLeagueNotTradable:  http.StatusUnprocessableEntity,
	model.CodeInsufficientFunds:  http.StatusUnprocessableEntity,
	model.CodeInsufficientShares: http.StatusUnprocessableEntity,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err to its code and HTTP status. Storage failures are
// logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errInvalidRequest) {
		writeErrorCode(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	code := model.Code(err)
	status, ok := statusByCode[code]
	if !ok {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeErrorCode(w, http.StatusInternalServerError, model.CodeStorageFailure, "internal error")
		return
	}
	writeErrorCode(w, status, code, err.Error())
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
