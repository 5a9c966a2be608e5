package middleware

import (
	"fmt"
	"net/http"

	"github.com/angelmondragon/packfinderz-compliance/api/responses"
	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
)

func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					ctx := r.Context()
					if logg != nil {
						ctx = logg.WithField(ctx, "panic", fmt.Sprint(rec))
					}
					responses.WriteError(ctx, logg, w,
						pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("panic: %v", rec), "panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
