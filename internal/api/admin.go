package api

import (
	"net/http"
)

func (s *Server) handleTriggerQuality(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	if err := s.Quality.Trigger(r.Context(), id); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleQualityStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, s.Quality.Status(id))
}

// handleResetDataset clears one dataset's detection state so its next
// eligible tick takes a fresh baseline.
func (s *Server) handleResetDataset(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		fail(w, err)
		return
	}
	if _, err := s.Store.Datasets.GetByID(r.Context(), id); err != nil {
		fail(w, err)
		return
	}
	if err := s.Lifecycle.ResetDataset(r.Context(), id); err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleMonitoringHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.Store.Datasets.Health(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, health)
}

func (s *Server) handleStorageUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.Store.StorageUsage(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	respond(w, http.StatusOK, usage)
}

// handleReset clears detection state; ?full=true drops registrations too.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	full := r.URL.Query().Get("full") == "true"

	var err error
	if full {
		err = s.Lifecycle.FullReset(r.Context())
	} else {
		err = s.Lifecycle.SmartRestart(r.Context())
	}
	if err != nil {
		fail(w, err)
		return
	}
	mode := "smart"
	if full {
		mode = "full"
	}
	respond(w, http.StatusOK, map[string]string{"status": "reset", "mode": mode})
}
