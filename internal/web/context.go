package web

import (
	"context"
	"net/http"

	mw "github.com/JonMunkholm/erpshell/internal/web/middleware"
)

type requestMetaKey struct{}

// requestMeta is who issued a request, for audit entries.
type requestMeta struct {
	IP        string
	UserAgent string
}

// WithRequestMetadata adds the client IP and User-Agent to ctx.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, requestMeta{
		IP:        mw.ClientIP(r), // already resolved by TrustedRealIP
		UserAgent: r.UserAgent(),
	})
}

func requestMetaFrom(ctx context.Context) requestMeta {
	m, _ := ctx.Value(requestMetaKey{}).(requestMeta)
	return m
}

// requestMetadata is middleware around WithRequestMetadata.
func requestMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRequestMetadata(r.Context(), r)))
	})
}
