package web

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/patient_portal/internal/api"
	"github.com/R3E-Network/patient_portal/internal/errors"
	"github.com/R3E-Network/patient_portal/internal/middleware"
	"github.com/R3E-Network/patient_portal/internal/session"
)

const boardKey = "patients.board"

// board is the patient list and create draft of one logged-in session.
// It lives in the session's view state and is dropped on token change.
type board struct {
	mu       sync.Mutex
	patients []api.Patient
	draft    api.PatientInput
}

func boardFor(s *session.Session) *board {
	return s.LoadOrStoreValue(boardKey, func() any { return &board{} }).(*board)
}

func (b *board) replace(patients []api.Patient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patients = patients
}

func (b *board) prepend(p api.Patient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.patients = append([]api.Patient{p}, b.patients...)
	b.draft = api.PatientInput{}
}

func (b *board) remove(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.patients[:0:0]
	for _, p := range b.patients {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	b.patients = kept
}

func (b *board) setDraft(in api.PatientInput) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.draft = in
}

func (b *board) snapshot() ([]api.Patient, api.PatientInput) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.Patient(nil), b.patients...), b.draft
}

// patients refetches the collection and renders the board. A failed
// fetch leaves the previous list on screen.
func (h *handler) patients(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := middleware.SessionFrom(ctx)
	b := boardFor(s)

	patients, err := s.Client().ListPatients(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(errors.FetchFailed("list patients", err)).Error("Error fetching patients")
	} else {
		b.replace(patients)
	}
	h.renderBoard(w, r, s, b)
}

func (h *handler) createPatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := middleware.SessionFrom(ctx)
	b := boardFor(s)

	in := api.PatientInput{
		FirstName:      r.PostFormValue("first_name"),
		LastName:       r.PostFormValue("last_name"),
		DateOfBirth:    r.PostFormValue("date_of_birth"),
		Gender:         r.PostFormValue("gender"),
		Address:        r.PostFormValue("address"),
		PhoneNumber:    r.PostFormValue("phone_number"),
		Email:          r.PostFormValue("email"),
		MedicalHistory: r.PostFormValue("medical_history"),
	}
	b.setDraft(in)

	if err := in.Validate(); err != nil {
		h.logger.WithContext(ctx).WithError(errors.Validation(err.Error())).Warn("Patient form incomplete")
		h.renderBoard(w, r, s, b)
		return
	}

	created, err := s.Client().CreatePatient(ctx, in)
	if err != nil {
		h.logger.WithContext(ctx).WithError(errors.FetchFailed("create patient", err)).Error("Error creating patient")
	} else {
		b.prepend(*created)
	}
	h.renderBoard(w, r, s, b)
}

func (h *handler) deletePatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := middleware.SessionFrom(ctx)
	b := boardFor(s)

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if err := s.Client().DeletePatient(ctx, id); err != nil {
		h.logger.WithContext(ctx).WithError(errors.FetchFailed("delete patient", err)).
			WithField("patient_id", id).Error("Error deleting patient")
	} else {
		b.remove(id)
	}
	h.renderBoard(w, r, s, b)
}

// renderBoard waits for the current user so the delete action reflects
// the resolved role.
func (h *handler) renderBoard(w http.ResponseWriter, r *http.Request, s *session.Session, b *board) {
	user := s.AwaitUser(r.Context())
	patients, draft := b.snapshot()
	h.render(w, r, http.StatusOK, "patients", pageData{
		Title:     "Patients",
		Patients:  patients,
		Draft:     draft,
		CanDelete: user.IsAdmin(),
	})
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	s := middleware.SessionFrom(r.Context())
	h.render(w, r, http.StatusOK, "profile", pageData{
		Title: "Profile",
		User:  s.AwaitUser(r.Context()),
	})
}
