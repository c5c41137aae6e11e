package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hourglasshq/hourglass/internal/api/helpers"
	"github.com/hourglasshq/hourglass/internal/api/middleware"
	"github.com/hourglasshq/hourglass/internal/apperr"
	"github.com/hourglasshq/hourglass/internal/notify"
)

// Notifier is the dispatcher slice the CI hook needs.
type Notifier interface {
	Emit(ctx context.Context, ev notify.Event)
}

// JenkinsHandler receives build and deploy results from CI and forwards them
// to the administrator distribution list. Called with a SERVICE_ACCOUNT
// token holding JENKINS:NOTIFY.
type JenkinsHandler struct {
	notifier Notifier
}

func NewJenkinsHandler(notifier Notifier) *JenkinsHandler {
	return &JenkinsHandler{notifier: notifier}
}

// JenkinsNotifyRequest is the CI callback payload.
type JenkinsNotifyRequest struct {
	Event  string `json:"event"`  // BUILD or DEPLOY
	Job    string `json:"job"`    // pipeline name
	Result string `json:"result"` // SUCCESS, FAILURE, ...
	Detail string `json:"detail,omitempty"`
}

func (req *JenkinsNotifyRequest) Validate() error {
	switch strings.ToUpper(req.Event) {
	case "BUILD", "DEPLOY":
	default:
		return fmt.Errorf("event must be BUILD or DEPLOY")
	}
	if req.Job == "" || req.Result == "" {
		return fmt.Errorf("job and result required")
	}
	return nil
}

func (h *JenkinsHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req JenkinsNotifyRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		slog.Warn("JenkinsNotify: Invalid Request Body", "error", err)
		helpers.RespondKind(w, apperr.InvalidInput, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		helpers.RespondKind(w, apperr.InvalidInput, err.Error())
		return
	}

	kind := notify.JenkinsBuild
	if strings.EqualFold(req.Event, "DEPLOY") {
		kind = notify.JenkinsDeploy
	}

	actor, _ := middleware.GetPrincipal(r.Context())
	slog.Info("ci_notification", "event", req.Event, "job", req.Job, "result", req.Result, "actor", actor.Username)

	h.notifier.Emit(r.Context(), notify.Event{
		Kind: kind,
		Data: map[string]string{
			"job":    req.Job,
			"result": strings.ToUpper(req.Result),
			"detail": req.Detail,
		},
	})

	w.WriteHeader(http.StatusAccepted)
}
