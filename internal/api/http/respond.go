package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/mindengage-exams/internal/apperrors"
	"github.com/mind-engage/mindengage-exams/internal/logger"
)

var validate = validator.New()

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as {code, message, data}. Unknown errors become a 500
// without leaking their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	body := errorBody{Code: apperrors.Code(err), Message: err.Error(), Data: apperrors.Details(err)}
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if status == http.StatusInternalServerError {
			body.Message = "internal server error"
		}
	}
	writeJSON(w, status, body)
}

// decodeBody reads a JSON body into dst and validates its struct tags.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.NewCustomError(apperrors.ErrValidationFailed, "bad json")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]interface{}, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			return apperrors.NewCustomError(apperrors.ErrValidationFailed, "invalid request").WithDetails(fields)
		}
		return apperrors.NewCustomError(apperrors.ErrValidationFailed, err.Error())
	}
	return nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewCustomError(apperrors.ErrValidationFailed, "invalid id "+strconv.Quote(s))
	}
	return id, nil
}
