package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Sad0asc0Sh/user-sub000/internal/platform/auth"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/requestctx"
	"github.com/Sad0asc0Sh/user-sub000/internal/services"
)

// SweepHandlers lets Cloud Scheduler trigger maintenance sweeps. The /internal group is
// protected by OIDC middleware configured on the router.
type SweepHandlers struct {
	sweeps services.SweepService
}

// NewSweepHandlers constructs the internal sweep trigger.
func NewSweepHandlers(sweeps services.SweepService) *SweepHandlers {
	return &SweepHandlers{sweeps: sweeps}
}

// Routes registers POST /sweeps/{job}.
func (h *SweepHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sweeps/{job}", h.run)
}

type sweepReportPayload struct {
	Job        string `json:"job"`
	Acquired   bool   `json:"acquired"`
	Processed  int    `json:"processed"`
	Warned     int    `json:"warned"`
	Failed     int    `json:"failed"`
	StartedAt  string `json:"started_at,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func (h *SweepHandlers) run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.sweeps == nil {
		serviceUnavailable(ctx, w, "sweep")
		return
	}
	job := chi.URLParam(r, "job")
	report, err := h.sweeps.Run(ctx, job)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	caller := ""
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok {
		caller = svc.Email
	}
	requestctx.Logger(ctx).Info("sweep triggered",
		zap.String("job", report.Job),
		zap.String("caller", caller),
		zap.Bool("acquired", report.Acquired),
		zap.Int("processed", report.Processed),
		zap.Int("failed", report.Failed))

	status := http.StatusOK
	if !report.Acquired {
		status = http.StatusAccepted
	}
	writeJSONResponse(w, status, sweepReportPayload{
		Job:        report.Job,
		Acquired:   report.Acquired,
		Processed:  report.Processed,
		Warned:     report.Warned,
		Failed:     report.Failed,
		StartedAt:  formatTime(report.StartedAt),
		DurationMS: report.Duration.Milliseconds(),
	})
}
