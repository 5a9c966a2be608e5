package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/angelmondragon/packfinderz-compliance/pkg/errors"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
)

var statusByKind = map[pkgerrors.Kind]int{
	pkgerrors.KindRetryable:     http.StatusServiceUnavailable,
	pkgerrors.KindConfiguration: http.StatusInternalServerError,
	pkgerrors.KindValidation:    http.StatusBadRequest,
	pkgerrors.KindFailure:       http.StatusUnprocessableEntity,
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, SuccessEnvelope{Data: data})
}

// WriteError renders err as an error envelope. Only validation and not found
// messages reach the client; everything else is logged and masked.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	status := StatusFor(typed.Code())
	msg := http.StatusText(status)
	if typed.Code() == pkgerrors.CodeNotFound || pkgerrors.MetadataFor(typed.Code()).Kind == pkgerrors.KindValidation {
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	if logg != nil {
		dump := pkgerrors.Dump(err)
		ctx = logg.WithFields(ctx, map[string]any{
			"error":       dump.TopMessage,
			"error_code":  dump.Code,
			"error_chain": dump.Chain,
		})
		logg.Error(ctx, "request.error", err)
	}

	writeJSON(w, status, ErrorEnvelope{
		Error: APIError{
			Code:    string(typed.Code()),
			Message: msg,
			Kind:    string(pkgerrors.MetadataFor(typed.Code()).Kind),
		},
	})
}

// StatusFor maps an error code onto an HTTP status.
func StatusFor(code pkgerrors.Code) int {
	if code == pkgerrors.CodeNotFound {
		return http.StatusNotFound
	}
	if status, ok := statusByKind[pkgerrors.MetadataFor(code).Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
