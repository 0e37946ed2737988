package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	scs "github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/clearnexus/nexdash/internal/auth"
	"github.com/clearnexus/nexdash/internal/email"
	"github.com/clearnexus/nexdash/internal/exemptions"
	"github.com/clearnexus/nexdash/internal/physnexus"
	"github.com/clearnexus/nexdash/internal/registrations"
	"github.com/clearnexus/nexdash/internal/report"
	"github.com/clearnexus/nexdash/nexus"
	"github.com/clearnexus/nexdash/querycache"
)

type Server struct {
	Router  *chi.Mux
	Sess    *scs.SessionManager
	Engine  *nexus.Client
	Store   *querycache.Store
	Regs    *registrations.Service
	Phys    *physnexus.Manager
	Share   auth.ShareLink
	Email   email.Sender
	BaseURL string
	Log     zerolog.Logger
}

type ServerOptions struct {
	Sess    *scs.SessionManager
	Engine  *nexus.Client
	Store   *querycache.Store
	Regs    *registrations.Service
	Phys    *physnexus.Manager
	Share   auth.ShareLink
	Email   email.Sender
	BaseURL string
	Log     zerolog.Logger
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	s := &Server{
		Router: r, Sess: opts.Sess, Engine: opts.Engine, Store: opts.Store,
		Regs: opts.Regs, Phys: opts.Phys, Share: opts.Share, Email: opts.Email,
		BaseURL: opts.BaseURL, Log: opts.Log,
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			s.Log.Error().Err(err).Msg("write health check response")
		}
	})

	// Share-link downloads carry their own token, no session needed.
	r.Get("/exports/{analysisID}/states.csv", s.handleExportDownload)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/analyses", s.handleUpload)
		api.Get("/analyses/{analysisID}", s.handleAnalysis)
		api.Get("/analyses/{analysisID}/states", s.handleStates)
		api.Get("/analyses/{analysisID}/vda", s.handleVDA)
		api.Post("/analyses/{analysisID}/recalculate", s.handleRecalculate)

		api.Get("/analyses/{analysisID}/registrations", s.handleRegistrations)
		api.Post("/analyses/{analysisID}/registrations/toggle", s.handleToggleRegistration)
		api.Put("/analyses/{analysisID}/registrations", s.handleSetRegistrations)

		api.Get("/analyses/{analysisID}/transactions", s.handleTransactions)
		api.Post("/analyses/{analysisID}/exemptions", s.handleStageExemption)
		api.Delete("/analyses/{analysisID}/exemptions/{txID}", s.handleUnstageExemption)
		api.Get("/analyses/{analysisID}/exemptions/summary", s.handleExemptionSummary)
		api.Post("/analyses/{analysisID}/exemptions/save", s.handleSaveExemptions)
		api.Post("/analyses/{analysisID}/exemptions/discard", s.handleDiscardExemptions)

		api.Get("/analyses/{analysisID}/physical-nexus", s.handlePhysicalNexusList)
		api.Post("/analyses/{analysisID}/physical-nexus", s.handlePhysicalNexusCreate)
		api.Patch("/analyses/{analysisID}/physical-nexus/{stateCode}", s.handlePhysicalNexusUpdate)
		api.Delete("/analyses/{analysisID}/physical-nexus/{stateCode}", s.handlePhysicalNexusDelete)
		api.Get("/analyses/{analysisID}/physical-nexus/export", s.handlePhysicalNexusExport)
		api.Post("/analyses/{analysisID}/physical-nexus/import", s.handlePhysicalNexusImport)

		api.Post("/analyses/{analysisID}/reports/share", s.handleShareReport)
		api.Post("/analyses/{analysisID}/reports/email", s.handleEmailReport)
	})

	return s
}

func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Log.Error().Err(err).Msg("encode response")
	}
}

// fail writes the JSON error the UI surfaces as a toast.
func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	s.respond(w, status, map[string]string{"error": msg})
}

func (s *Server) failUpstream(w http.ResponseWriter, err error, msg string) {
	s.Log.Error().Err(err).Msg(msg)
	if nexus.IsNotFound(err) {
		s.fail(w, http.StatusNotFound, msg+": not found")
		return
	}
	s.fail(w, http.StatusBadGateway, msg)
}

// analysis fetches the (cached) analysis so handlers can resolve the
// registration storage target and the linked client.
func (s *Server) analysis(r *http.Request) (*nexus.Analysis, error) {
	id := chi.URLParam(r, "analysisID")
	key := querycache.Key("analysis", id)
	return querycache.Fetch(r.Context(), s.Store, key, time.Minute, func(ctx context.Context) (*nexus.Analysis, error) {
		return s.Engine.GetAnalysis(ctx, id)
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		s.fail(w, http.StatusBadRequest, "multipart form required")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, http.StatusBadRequest, "transaction file required")
		return
	}
	defer file.Close()

	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = header.Filename
	}

	a, err := s.Engine.UploadAnalysis(r.Context(), name, header.Filename, file)
	if err != nil {
		s.failUpstream(w, err, "could not upload analysis")
		return
	}
	s.respond(w, http.StatusAccepted, a)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.analysis(r)
	if err != nil {
		s.failUpstream(w, err, "could not load analysis")
		return
	}
	s.respond(w, http.StatusOK, a)
}

func (s *Server) handleStates(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")

	states, err := querycache.Fetch(r.Context(), s.Store, physnexus.StateResultsKey(analysisID), 0,
		func(ctx context.Context) ([]nexus.StateResult, error) {
			return s.Engine.StateResults(ctx, analysisID)
		})
	if err != nil {
		s.failUpstream(w, err, "could not load state results")
		return
	}

	var userSort *report.Sort
	if col := r.URL.Query().Get("sort"); col != "" {
		userSort = &report.Sort{Column: col, Desc: r.URL.Query().Get("desc") == "true"}
	}
	s.respond(w, http.StatusOK, report.Group(states, userSort))
}

func (s *Server) handleVDA(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	comparisons, err := s.Engine.VDAComparisons(r.Context(), analysisID)
	if err != nil {
		s.failUpstream(w, err, "could not load VDA comparison")
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"states": comparisons})
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	res, err := s.Engine.Recalculate(r.Context(), analysisID)
	if err != nil {
		s.failUpstream(w, err, "recalculation failed")
		return
	}
	s.Store.Invalidate(physnexus.StateResultsKey(analysisID))
	s.respond(w, http.StatusOK, res)
}

// ---- Registrations

func (s *Server) target(r *http.Request) (registrations.Target, error) {
	a, err := s.analysis(r)
	if err != nil {
		return registrations.Target{}, err
	}
	return registrations.ForAnalysis(a), nil
}

func (s *Server) handleRegistrations(w http.ResponseWriter, r *http.Request) {
	t, err := s.target(r)
	if err != nil {
		s.failUpstream(w, err, "could not resolve analysis")
		return
	}
	set, err := s.Regs.Registered(r.Context(), t)
	if err != nil {
		s.failUpstream(w, err, "could not load registrations")
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"registered_states": set})
}

func (s *Server) handleToggleRegistration(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	var body struct {
		StateCode string `json:"state_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.StateCode == "" {
		s.fail(w, http.StatusBadRequest, "state_code required")
		return
	}

	t, err := s.target(r)
	if err != nil {
		s.failUpstream(w, err, "could not resolve analysis")
		return
	}

	onUpdate := func() { s.Store.Invalidate(physnexus.StateResultsKey(analysisID)) }
	set, err := s.Regs.Toggle(r.Context(), t, body.StateCode, onUpdate)
	if err != nil {
		// Rolled back already; the set in the response is the confirmed one.
		s.respond(w, http.StatusBadGateway, map[string]any{
			"error":             "could not update registration",
			"registered_states": set,
		})
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"registered_states": set})
}

func (s *Server) handleSetRegistrations(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	var body struct {
		RegisteredStates []string `json:"registered_states"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.fail(w, http.StatusBadRequest, "registered_states required")
		return
	}

	t, err := s.target(r)
	if err != nil {
		s.failUpstream(w, err, "could not resolve analysis")
		return
	}

	onUpdate := func() { s.Store.Invalidate(physnexus.StateResultsKey(analysisID)) }
	set, err := s.Regs.SetAll(r.Context(), t, body.RegisteredStates, onUpdate)
	if err != nil {
		s.respond(w, http.StatusBadGateway, map[string]any{
			"error":             "could not update registrations",
			"registered_states": set,
		})
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"registered_states": set})
}

// ---- Exemptions

func pendingKey(analysisID string) string {
	return "pending_exemptions:" + analysisID
}

func (s *Server) pendingSet(r *http.Request, analysisID string) (*exemptions.Set, error) {
	return exemptions.DecodeSet(s.Sess.GetBytes(r.Context(), pendingKey(analysisID)))
}

func (s *Server) storePendingSet(r *http.Request, analysisID string, set *exemptions.Set) error {
	data, err := set.Encode()
	if err != nil {
		return err
	}
	s.Sess.Put(r.Context(), pendingKey(analysisID), data)
	return nil
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	state := r.URL.Query().Get("state")

	txs, total, err := s.Engine.Transactions(r.Context(), analysisID, state, page, 50)
	if err != nil {
		s.failUpstream(w, err, "could not load transactions")
		return
	}

	pending, err := s.pendingSet(r, analysisID)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "corrupt pending changes")
		return
	}
	effective := make([]nexus.Transaction, len(txs))
	for i, tx := range txs {
		effective[i] = pending.Effective(tx)
	}

	s.respond(w, http.StatusOK, map[string]any{
		"transactions": effective,
		"total":        total,
		"pending":      pending.Summarize(),
	})
}

func (s *Server) handleStageExemption(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	var body struct {
		Transaction  nexus.Transaction `json:"transaction"`
		Remove       bool              `json:"remove"`
		ExemptAmount float64           `json:"exempt_amount"`
		Reason       string            `json:"reason"`
		ReasonDetail string            `json:"reason_detail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Transaction.ID == "" {
		s.fail(w, http.StatusBadRequest, "transaction required")
		return
	}

	pending, err := s.pendingSet(r, analysisID)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "corrupt pending changes")
		return
	}

	if body.Remove {
		pending.StageRemoval(body.Transaction)
	} else if err := pending.Stage(body.Transaction, body.ExemptAmount, body.Reason, body.ReasonDetail); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := s.storePendingSet(r, analysisID, pending); err != nil {
		s.fail(w, http.StatusInternalServerError, "could not store pending changes")
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"effective": pending.Effective(body.Transaction),
		"pending":   pending.Summarize(),
	})
}

func (s *Server) handleUnstageExemption(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	txID := chi.URLParam(r, "txID")

	pending, err := s.pendingSet(r, analysisID)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "corrupt pending changes")
		return
	}
	pending.Unstage(txID)
	if err := s.storePendingSet(r, analysisID, pending); err != nil {
		s.fail(w, http.StatusInternalServerError, "could not store pending changes")
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"pending": pending.Summarize()})
}

func (s *Server) handleExemptionSummary(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	pending, err := s.pendingSet(r, analysisID)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "corrupt pending changes")
		return
	}
	s.respond(w, http.StatusOK, pending.Summarize())
}

func (s *Server) handleSaveExemptions(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	pending, err := s.pendingSet(r, analysisID)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "corrupt pending changes")
		return
	}

	onRecalculated := func() { s.Store.Invalidate(physnexus.StateResultsKey(analysisID)) }
	res, err := pending.Save(r.Context(), s.Engine, analysisID, onRecalculated)
	if err != nil {
		// Batch not applied; pending edits stay staged for retry.
		s.failUpstream(w, err, "could not save exemption changes")
		return
	}

	s.Sess.Remove(r.Context(), pendingKey(analysisID))
	s.respond(w, http.StatusOK, res)
}

func (s *Server) handleDiscardExemptions(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	s.Sess.Remove(r.Context(), pendingKey(analysisID))
	s.respond(w, http.StatusOK, map[string]any{"pending": exemptions.Summary{}})
}

// ---- Physical nexus

func (s *Server) handlePhysicalNexusList(w http.ResponseWriter, r *http.Request) {
	records, err := s.Phys.List(r.Context(), chi.URLParam(r, "analysisID"))
	if err != nil {
		s.failUpstream(w, err, "could not load physical nexus")
		return
	}
	s.respond(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handlePhysicalNexusCreate(w http.ResponseWriter, r *http.Request) {
	a, err := s.analysis(r)
	if err != nil {
		s.failUpstream(w, err, "could not resolve analysis")
		return
	}
	var rec nexus.PhysicalNexusRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec.StateCode == "" {
		s.fail(w, http.StatusBadRequest, "state_code required")
		return
	}
	if err := s.Phys.Create(r.Context(), a.ID, a.ClientID, rec); err != nil {
		s.failUpstream(w, err, "could not create physical nexus")
		return
	}
	s.respond(w, http.StatusCreated, map[string]string{"status": "created"})
}

func (s *Server) handlePhysicalNexusUpdate(w http.ResponseWriter, r *http.Request) {
	a, err := s.analysis(r)
	if err != nil {
		s.failUpstream(w, err, "could not resolve analysis")
		return
	}
	var rec nexus.PhysicalNexusRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		s.fail(w, http.StatusBadRequest, "record body required")
		return
	}
	stateCode := chi.URLParam(r, "stateCode")
	if err := s.Phys.Update(r.Context(), a.ID, a.ClientID, stateCode, rec); err != nil {
		s.failUpstream(w, err, "could not update physical nexus")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handlePhysicalNexusDelete(w http.ResponseWriter, r *http.Request) {
	a, err := s.analysis(r)
	if err != nil {
		s.failUpstream(w, err, "could not resolve analysis")
		return
	}
	stateCode := chi.URLParam(r, "stateCode")
	if err := s.Phys.Delete(r.Context(), a.ID, a.ClientID, stateCode); err != nil {
		s.failUpstream(w, err, "could not delete physical nexus")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handlePhysicalNexusExport(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Phys.Export(r.Context(), chi.URLParam(r, "analysisID"))
	if err != nil {
		s.failUpstream(w, err, "could not export physical nexus")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="physical-nexus.json"`)
	s.respond(w, http.StatusOK, doc)
}

func (s *Server) handlePhysicalNexusImport(w http.ResponseWriter, r *http.Request) {
	a, err := s.analysis(r)
	if err != nil {
		s.failUpstream(w, err, "could not resolve analysis")
		return
	}
	data, err := readBody(r, 8<<20)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "import document required")
		return
	}
	res, err := s.Phys.Import(r.Context(), a.ID, a.ClientID, data)
	if err != nil {
		s.failUpstream(w, err, "could not import physical nexus")
		return
	}
	s.respond(w, http.StatusOK, res)
}

// ---- Reports

func (s *Server) handleShareReport(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	url := s.Share.URL(analysisID, 7*24*time.Hour)
	s.respond(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	granted, err := s.Share.Verify(r.URL.Query().Get("token"))
	if err != nil || granted != analysisID {
		s.Log.Warn().Err(err).Str("analysis", analysisID).Msg("export token rejected")
		s.fail(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	states, err := s.Engine.StateResults(r.Context(), analysisID)
	if err != nil {
		s.failUpstream(w, err, "could not load state results")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="nexus-states.csv"`)
	if _, err := w.Write(report.CSV(states)); err != nil {
		s.Log.Error().Err(err).Msg("write csv export")
	}
}

func (s *Server) handleEmailReport(w http.ResponseWriter, r *http.Request) {
	analysisID := chi.URLParam(r, "analysisID")
	var body struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.To == "" {
		s.fail(w, http.StatusBadRequest, "recipient required")
		return
	}

	states, err := s.Engine.StateResults(r.Context(), analysisID)
	if err != nil {
		s.failUpstream(w, err, "could not load state results")
		return
	}

	subject := "Nexus state report"
	text := fmt.Sprintf("Attached: per-state nexus report for analysis %s (%d states).", analysisID, len(states))
	if err := s.Email.Send(body.To, subject, text, "nexus-states.csv", report.CSV(states)); err != nil {
		s.Log.Error().Err(err).Str("to", body.To).Msg("email report failed")
		s.fail(w, http.StatusBadGateway, "could not send report email")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "sent"})
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return data, nil
}
