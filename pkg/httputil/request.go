package httputil

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// PathVar returns the mux path variable key. A missing or empty variable is
// answered with 400 and ok is false.
func PathVar(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	val := mux.Vars(r)[key]
	if val == "" {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("missing path parameter: %s", key))
		return "", false
	}
	return val, true
}

// QueryBool returns the boolean query parameter key, or def when it is absent.
// A value strconv.ParseBool rejects is answered with 400 and ok is false.
func QueryBool(w http.ResponseWriter, r *http.Request, key string, def bool) (val, ok bool) {
	val, err := parseBool(r.URL.Query().Get(key), def)
	if err != nil {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("query parameter %s: %v", key, err))
		return false, false
	}
	return val, true
}

func parseBool(s string, def bool) (bool, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("not a boolean: %q", s)
	}
	return v, nil
}
