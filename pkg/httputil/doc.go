// Package httputil holds the small HTTP toolkit behind the control API.
//
// Responses are always JSON. Errors are an ErrorResponse carrying the status and,
// behind RequestIDMiddleware, the request id:
//
//	httputil.WriteSuccess(w, view)
//	httputil.WriteMappedError(w, err, httputil.ErrorStatus{Err: catalog.ErrUnknownRecord, Status: http.StatusNotFound})
//
// Path parameters come from gorilla/mux route variables:
//
//	id, ok := httputil.PathVar(w, r, "id")
//	if !ok {
//		return
//	}
//
// Middleware composes with Chain, outermost first:
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
