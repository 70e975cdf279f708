package i18n

import "net/http"

// Middleware negotiates the response language from Accept-Language and
// injects a matching localizer into every request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag := Negotiate(r.Header.Get("Accept-Language"))
		w.Header().Set("Content-Language", tag.String())
		ctx := WithLocalizer(r.Context(), NewLocalizer(tag.String()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
