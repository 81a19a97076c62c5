package events

import "time"

// BookingSlot is the wall-clock placement of a booking in the clinic's time zone.
type BookingSlot struct {
	Date            string `json:"date"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"duration_minutes"`
	DoctorID        string `json:"doctor_id"`
}

// BookingCreatedV1 is emitted when a booking row is inserted.
type BookingCreatedV1 struct {
	BookingID    string      `json:"booking_id"`
	ClinicID     string      `json:"clinic_id"`
	ServiceID    string      `json:"service_id"`
	PatientPhone string      `json:"patient_phone,omitempty"`
	GroupID      string      `json:"group_id,omitempty"`
	Slot         BookingSlot `json:"slot"`
	Policy       string      `json:"selection_policy"`
	CreatedAt    time.Time   `json:"created_at"`
}

func (BookingCreatedV1) EventType() string {
	return "booking.created.v1"
}

// BookingRescheduledV1 is emitted when a booking moves to a new slot.
// NewBookingID differs from BookingID when the variant replaces rows instead of updating them.
type BookingRescheduledV1 struct {
	BookingID     string      `json:"booking_id"`
	NewBookingID  string      `json:"new_booking_id"`
	ClinicID      string      `json:"clinic_id"`
	Previous      BookingSlot `json:"previous"`
	Current       BookingSlot `json:"current"`
	DetachedGroup bool        `json:"detached_group"`
	RescheduledAt time.Time   `json:"rescheduled_at"`
}

func (BookingRescheduledV1) EventType() string {
	return "booking.rescheduled.v1"
}

// BookingCancelledV1 is emitted for a single cancellation or a whole repeated-visit set.
type BookingCancelledV1 struct {
	ClinicID    string    `json:"clinic_id"`
	BookingIDs  []string  `json:"booking_ids"`
	GroupID     string    `json:"group_id,omitempty"`
	Mode        string    `json:"mode"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func (BookingCancelledV1) EventType() string {
	return "booking.cancelled.v1"
}
