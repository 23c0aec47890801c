package httpapi

import (
	"context"
	"net/http"
)

type ctxKey uint8

const callerKey ctxKey = iota

func withCaller(r *http.Request, identity string) *http.Request {
	if identity == "" {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), callerKey, identity))
}

func callerIdentity(r *http.Request) string {
	v, _ := r.Context().Value(callerKey).(string)
	return v
}
