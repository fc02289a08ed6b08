package auth

import (
	"context"
	"strconv"

	"github.com/mind-engage/mindengage-exams/internal/rbac"
)

// UserIDFromContext returns the numeric user id authenticated by JWTMiddleware.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, err := strconv.ParseInt(rbac.SubjectFromContext(ctx), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
