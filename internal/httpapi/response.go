// Package httpapi is the broker's HTTP surface (§6): a thin chi router that
// parses requests, dispatches into the Auth Flow Engine, and translates
// authzerr codes onto the wire: writeError answers with the code's own HTTP
// status and a JSON error body, and redirectError puts the code on the
// callback URL's query when one is known. Neither publishes the error to a
// UI client. It holds no business logic of its own.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/dropDatabas3/authbroker/internal/authzerr"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody is the stable JSON shape every error response carries.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError translates err onto the wire. authzerr.Error codes publish
// their own status and stable code; anything else is unknown_error/500
// (§7: "unexpected conditions ... surfaced as unknown_error").
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	e, ok := authzerr.As(err)
	if !ok {
		if logger != nil {
			logger.Error("unhandled error", zap.Error(err))
		}
		e = authzerr.New(authzerr.UnknownError, "%v", err)
	}
	var body errorBody
	body.Error.Code = string(e.Code)
	body.Error.Message = e.Error()
	writeJSON(w, e.HTTPStatus(), body)
}

// redirectError sends the end user to req's callback URL (if any) carrying
// the failure as query params, matching the UI-originated 200-and-
// published-error pattern (§7) for the redirect leg of a flow that already
// has somewhere to send the browser back to. Falls back to a JSON error
// body when no redirect target is known.
func redirectError(w http.ResponseWriter, r *http.Request, callbackURL string, err error) {
	e, ok := authzerr.As(err)
	if !ok {
		e = authzerr.New(authzerr.UnknownError, "%v", err)
	}
	if callbackURL == "" {
		writeJSON(w, e.HTTPStatus(), errBodyOf(e))
		return
	}
	u := callbackURL
	sep := "?"
	if containsQuery(u) {
		sep = "&"
	}
	http.Redirect(w, r, u+sep+"error="+string(e.Code)+"&error_message="+e.Message, http.StatusFound)
}

func errBodyOf(e *authzerr.Error) errorBody {
	var body errorBody
	body.Error.Code = string(e.Code)
	body.Error.Message = e.Error()
	return body
}

func containsQuery(u string) bool {
	for i := range u {
		if u[i] == '?' {
			return true
		}
	}
	return false
}
