package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Patient is a patient record as returned by the API.
type Patient struct {
	ID             int64  `json:"id"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	DateOfBirth    string `json:"date_of_birth"`
	Gender         string `json:"gender"`
	Address        string `json:"address"`
	PhoneNumber    string `json:"phone_number"`
	Email          string `json:"email"`
	MedicalHistory string `json:"medical_history"`
	IsActive       bool   `json:"is_active"`
}

// PatientInput is the create form. Every field is sent, empty or not.
type PatientInput struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	DateOfBirth    string `json:"date_of_birth"`
	Gender         string `json:"gender"`
	Address        string `json:"address"`
	PhoneNumber    string `json:"phone_number"`
	Email          string `json:"email"`
	MedicalHistory string `json:"medical_history"`
}

// Validate checks the fields the portal requires before sending.
func (p PatientInput) Validate() error {
	var missing []string
	if p.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if p.LastName == "" {
		missing = append(missing, "last_name")
	}
	if p.Email == "" {
		missing = append(missing, "email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s required", strings.Join(missing, ", "))
	}
	return nil
}

// ListPatients fetches the patient collection.
func (c *Client) ListPatients(ctx context.Context) ([]Patient, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/patients/", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do("patients_list", req)
	if err != nil {
		return nil, err
	}

	var patients []Patient
	if err := resp.JSON(&patients); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return patients, nil
}

// CreatePatient creates a patient and returns the stored record.
func (c *Client) CreatePatient(ctx context.Context, in PatientInput) (*Patient, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/patients/", in)
	if err != nil {
		return nil, err
	}

	resp, err := c.do("patients_create", req)
	if err != nil {
		return nil, err
	}

	var patient Patient
	if err := resp.JSON(&patient); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &patient, nil
}

// DeletePatient deletes the patient with the given id.
func (c *Client) DeletePatient(ctx context.Context, id int64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, fmt.Sprintf("/patients/%d", id), nil)
	if err != nil {
		return err
	}

	_, err = c.do("patients_delete", req)
	return err
}
