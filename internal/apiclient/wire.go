package apiclient

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/wolfman30/patient-portal/internal/appointments"
)

// entityRef is a reference that the API sends either as a bare id string or
// as a populated object.
type entityRef struct {
	ID             string
	Name           string
	Specialization string
}

func (r *entityRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var obj struct {
		MongoID        string `json:"_id"`
		ID             string `json:"id"`
		Name           string `json:"name"`
		Specialization string `json:"specialization"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ID = firstNonEmpty(obj.MongoID, obj.ID)
	r.Name = obj.Name
	r.Specialization = obj.Specialization
	return nil
}

type appointmentRecord struct {
	MongoID         string     `json:"_id"`
	ID              string     `json:"id"`
	Patient         *entityRef `json:"patient"`
	PatientID       string     `json:"patientId"`
	Doctor          *entityRef `json:"doctor"`
	AppointmentDate string     `json:"appointmentDate"`
	AppointmentTime string     `json:"appointmentTime"`
	Reason          string     `json:"reason"`
	Symptoms        string     `json:"symptoms"`
	Status          string     `json:"status"`
}

func (r appointmentRecord) toDomain() appointments.Appointment {
	a := appointments.Appointment{
		ID:        firstNonEmpty(r.MongoID, r.ID),
		PatientID: r.PatientID,
		Date:      r.AppointmentDate,
		Time:      r.AppointmentTime,
		Reason:    r.Reason,
		Symptoms:  r.Symptoms,
		Status:    appointments.Status(strings.ToLower(strings.TrimSpace(r.Status))),
	}
	if r.Patient != nil {
		a.PatientRef = r.Patient.ID
	}
	if r.Doctor != nil {
		a.Doctor = appointments.DoctorRef{
			ID:             r.Doctor.ID,
			Name:           r.Doctor.Name,
			Specialization: r.Doctor.Specialization,
		}
	}
	return a
}

type listAppointmentsResponse struct {
	Appointments []appointmentRecord `json:"appointments"`
}

// appointmentEnvelope accepts both {"appointment": {...}} and a bare record.
type appointmentEnvelope struct {
	appointmentRecord
	Appointment *appointmentRecord `json:"appointment"`
}

func (e appointmentEnvelope) record() appointmentRecord {
	if e.Appointment != nil {
		return *e.Appointment
	}
	return e.appointmentRecord
}

type createAppointmentRequest struct {
	Doctor          string `json:"doctor"`
	AppointmentDate string `json:"appointmentDate"`
	AppointmentTime string `json:"appointmentTime"`
	Reason          string `json:"reason"`
	Symptoms        string `json:"symptoms,omitempty"`
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

type userRecord struct {
	MongoID        string `json:"_id"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	Specialization string `json:"specialization"`
}

type listUsersResponse struct {
	Users []userRecord `json:"users"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
