package server

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/legio-dev/legio/internal/errs"
	"github.com/legio-dev/legio/internal/util"
)

// Issue mirrors the external tracker's export format. Legio does not
// own issues; it surfaces whatever the tracker wrote to issues.json.
type Issue struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority,omitempty"`
	Assignee string `json:"assignee,omitempty"`
}

// Proposal is one strategy suggestion awaiting operator review.
type Proposal struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	DecidedAt time.Time `json:"decidedAt,omitempty"`
}

func (s *Server) loadIssues() ([]Issue, error) {
	var issues []Issue
	if err := util.ReadJSON(s.Paths.IssuesFile(), &issues); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return issues, nil
}

func (s *Server) handleIssues(w http.ResponseWriter, _ *http.Request) {
	issues, err := s.loadIssues()
	if err != nil {
		s.fail(w, err)
		return
	}
	if issues == nil {
		issues = []Issue{}
	}
	writeJSON(w, issues)
}

func (s *Server) handleIssuesReady(w http.ResponseWriter, _ *http.Request) {
	issues, err := s.loadIssues()
	if err != nil {
		s.fail(w, err)
		return
	}
	ready := []Issue{}
	for _, issue := range issues {
		if issue.Status == "ready" || issue.Status == "open" {
			ready = append(ready, issue)
		}
	}
	writeJSON(w, ready)
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	issues, err := s.loadIssues()
	if err != nil {
		s.fail(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	for _, issue := range issues {
		if issue.ID == id {
			writeJSON(w, issue)
			return
		}
	}
	s.fail(w, errs.NotFound("issue", id))
}

func (s *Server) loadProposals() ([]Proposal, error) {
	var proposals []Proposal
	if err := util.ReadJSON(s.Paths.StrategyFile(), &proposals); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return proposals, nil
}

func (s *Server) handleStrategy(w http.ResponseWriter, _ *http.Request) {
	proposals, err := s.loadProposals()
	if err != nil {
		s.fail(w, err)
		return
	}
	if proposals == nil {
		proposals = []Proposal{}
	}
	writeJSON(w, proposals)
}

func (s *Server) decideProposal(w http.ResponseWriter, r *http.Request, status string) {
	proposals, err := s.loadProposals()
	if err != nil {
		s.fail(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	for i := range proposals {
		if proposals[i].ID != id {
			continue
		}
		proposals[i].Status = status
		proposals[i].DecidedAt = time.Now()
		if err := util.AtomicWriteJSON(s.Paths.StrategyFile(), proposals); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, proposals[i])
		return
	}
	s.fail(w, errs.NotFound("strategy proposal", id))
}

func (s *Server) handleStrategyApprove(w http.ResponseWriter, r *http.Request) {
	s.decideProposal(w, r, "approved")
}

func (s *Server) handleStrategyDismiss(w http.ResponseWriter, r *http.Request) {
	s.decideProposal(w, r, "dismissed")
}
