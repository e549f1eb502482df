package incidents

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

var validate = validator.New()

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

// decodeStrict rejects unknown fields and trailing data.
func decodeStrict(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after request body")
	}
	return nil
}

// reportRequest accepts both the dashboard's {formData, signature} body and a
// flat body with the form fields at the top level.
type reportRequest struct {
	FormData *ReportForm `json:"formData"`
	ReportForm
	Signature string `json:"signature"`
}

func (r *reportRequest) form() ReportForm {
	if r.FormData != nil {
		return *r.FormData
	}
	return r.ReportForm
}

type reportResponse struct {
	Success    bool   `json:"success"`
	IncidentID string `json:"incidentId"`
	Message    string `json:"message"`
}

type ReportHandler struct {
	Engine *Engine
	Logger zerolog.Logger
}

func (h *ReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req reportRequest
	if err := decodeStrict(w, r, &req); err != nil {
		h.Logger.Debug().Err(err).Msg("invalid report body")
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	form := req.form()
	if err := validate.Struct(form); err != nil {
		writeError(w, http.StatusBadRequest, "Incomplete form data")
		return
	}
	if err := validate.Var(req.Signature, "required"); err != nil {
		writeError(w, http.StatusBadRequest, "Missing formData or signature")
		return
	}

	id, err := h.Engine.Submit(r.Context(), form, req.Signature)
	switch {
	case err == nil:
	case errors.Is(err, ErrSignatureMismatch):
		writeError(w, http.StatusBadRequest, "Signature does not match the reported address")
		return
	case IsBadRequest(err):
		writeError(w, http.StatusBadRequest, "Incomplete form data")
		return
	default:
		writeError(w, http.StatusInternalServerError, "Server error reporting incident")
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{
		Success:    true,
		IncidentID: id,
		Message:    "Incident reported successfully",
	})
}

type verifyRequest struct {
	IncidentID     string `json:"incidentId" validate:"required"`
	WatcherAddress string `json:"watcherAddress" validate:"required"`
	Signature      string `json:"signature" validate:"required"`
}

type verifyResponse struct {
	Success    bool   `json:"success"`
	IncidentID string `json:"incidentId"`
	Status     Status `json:"status"`
	Watchers   int    `json:"watchers"`
	Message    string `json:"message,omitempty"`
}

type VerifyHandler struct {
	Engine *Engine
	Logger zerolog.Logger
}

func (h *VerifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req verifyRequest
	if err := decodeStrict(w, r, &req); err != nil {
		h.Logger.Debug().Err(err).Msg("invalid verify body")
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing fields")
		return
	}

	res, err := h.Engine.Verify(r.Context(), VerifyRequest{
		IncidentID: req.IncidentID,
		Watcher:    req.WatcherAddress,
		Signature:  req.Signature,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Incident not found")
		return
	case errors.Is(err, ErrSignatureMismatch):
		writeError(w, http.StatusBadRequest, "Signature mismatch")
		return
	case errors.Is(err, ErrSelfVerification):
		writeError(w, http.StatusBadRequest, "Reporter cannot verify own incident")
		return
	case IsBadRequest(err):
		writeError(w, http.StatusBadRequest, "Missing fields")
		return
	default:
		writeError(w, http.StatusInternalServerError, "Server error verifying incident")
		return
	}

	resp := verifyResponse{
		Success:    true,
		IncidentID: res.IncidentID,
		Status:     res.Status,
		Watchers:   res.Watchers,
	}
	switch {
	case res.AlreadyVerified:
		resp.Message = "Already verified"
	case res.Duplicate:
		resp.Message = "Already verified by this watcher"
	}
	writeJSON(w, http.StatusOK, resp)
}

type listResponse struct {
	Success   bool       `json:"success"`
	Incidents []Incident `json:"incidents"`
}

type ListHandler struct {
	Engine *Engine
	Logger zerolog.Logger
}

func (h *ListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	q := r.URL.Query()
	status, err := ParseStatus(q.Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Unknown status filter")
		return
	}
	filter := ListFilter{Status: status}
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = l
		}
	}

	incs, err := h.Engine.List(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Server error fetching incidents")
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Incidents: incs})
}

type detailResponse struct {
	Success  bool      `json:"success"`
	Incident *Incident `json:"incident"`
}

// DetailHandler serves /incidents/{id}.
type DetailHandler struct {
	Engine *Engine
	Logger zerolog.Logger
}

func (h *DetailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id := mux.Vars(r)["id"]
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing incident id")
		return
	}
	inc, err := h.Engine.Get(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "Incident not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Server error fetching incident")
		return
	}
	writeJSON(w, http.StatusOK, detailResponse{Success: true, Incident: inc})
}

// AnnounceHandler re-emits the verified announcement. It is mounted behind
// operator authentication.
type AnnounceHandler struct {
	Engine *Engine
	Logger zerolog.Logger
}

func (h *AnnounceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id := mux.Vars(r)["id"]
	err := h.Engine.Reannounce(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Incident not found")
		return
	case errors.Is(err, ErrNotVerified):
		writeError(w, http.StatusBadRequest, "Incident is not verified")
		return
	default:
		writeError(w, http.StatusInternalServerError, "Server error announcing incident")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":    true,
		"incidentId": id,
	})
}
