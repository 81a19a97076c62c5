package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/clinic-scheduler/internal/availability"
	"github.com/wolfman30/clinic-scheduler/internal/bookings"
	"github.com/wolfman30/clinic-scheduler/internal/clinic"
	"github.com/wolfman30/clinic-scheduler/internal/schedule"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

// InboundMessage is one text message received from a patient.
type InboundMessage struct {
	MessageID     string    `json:"message_id"`
	ClinicID      string    `json:"clinic_id"`
	PhoneNumberID string    `json:"phone_number_id"`
	From          string    `json:"from"`
	ProfileName   string    `json:"profile_name,omitempty"`
	Text          string    `json:"text"`
	ReceivedAt    time.Time `json:"received_at"`
}

// Reply is what the bot answers to one inbound message.
type Reply struct {
	Text    string   `json:"text"`
	Options []Option `json:"options,omitempty"`
}

// Body renders the reply with its numbered options.
func (r *Reply) Body() string {
	var b strings.Builder
	b.WriteString(r.Text)
	for i, opt := range r.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt.Label)
	}
	return b.String()
}

// Availability is the read side the dialogue consults.
type Availability interface {
	Calendar(ctx context.Context, q availability.Query, from time.Time, days int) ([]availability.DayStatus, error)
	IsDateBookable(ctx context.Context, q availability.Query) (bool, error)
	AmPmBlocks(ctx context.Context, q availability.Query) (availability.Blocks, error)
	SlotsInBlock(ctx context.Context, q availability.Query, blockID string) ([]availability.SlotOption, error)
	NearestBookableDates(ctx context.Context, q availability.Query) ([]time.Time, error)
}

// BookingCreator stores a confirmed request.
type BookingCreator interface {
	Create(ctx context.Context, nb bookings.NewBooking) (*bookings.Result, error)
}

// Catalog lists what a clinic offers.
type Catalog interface {
	ListServices(ctx context.Context, clinicID string) ([]availability.Service, error)
	ListDoctors(ctx context.Context, clinicID string) ([]availability.Doctor, error)
}

// ProfileReader loads the clinic's behaviour settings.
type ProfileReader interface {
	GetProfile(ctx context.Context, clinicID string) (*clinic.Profile, error)
}

type sessionStore interface {
	Load(ctx context.Context, clinicID, phone string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	Delete(ctx context.Context, clinicID, phone string) error
}

type stepFunc func(ctx context.Context, sess *Session, msg InboundMessage) (*Reply, error)

// Sequencer decides which question to ask next. It owns the session; the availability
// engine and the booking writer only ever see queries built from it.
type Sequencer struct {
	avail        Availability
	writer       BookingCreator
	catalog      Catalog
	profiles     ProfileReader
	sessions     sessionStore
	calendarDays int
	logger       *logging.Logger
	steps        map[State]stepFunc
}

// NewSequencer wires the dialogue to its collaborators.
func NewSequencer(avail Availability, writer BookingCreator, catalog Catalog, profiles ProfileReader, sessions sessionStore, calendarDays int, logger *logging.Logger) *Sequencer {
	if avail == nil || writer == nil || catalog == nil || profiles == nil || sessions == nil {
		panic("conversation: sequencer dependencies cannot be nil")
	}
	if calendarDays <= 0 {
		calendarDays = 14
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Sequencer{
		avail:        avail,
		writer:       writer,
		catalog:      catalog,
		profiles:     profiles,
		sessions:     sessions,
		calendarDays: calendarDays,
		logger:       logger,
	}
	s.steps = map[State]stepFunc{
		StateChooseService: s.chooseService,
		StateChooseDoctor:  s.chooseDoctor,
		StateChooseDate:    s.chooseDate,
		StateChooseBlock:   s.chooseBlock,
		StateChooseSlot:    s.chooseSlot,
		StateConfirm:       s.confirm,
	}
	return s
}

var resetCommands = map[string]bool{"restart": true, "cancel": true, "reset": true, "start": true}

// Handle advances the patient's session by one message and returns the reply to send.
// Errors are reserved for store failures; domain rejections become re-prompts.
func (s *Sequencer) Handle(ctx context.Context, msg InboundMessage) (*Reply, error) {
	sess, err := s.sessions.Load(ctx, msg.ClinicID, msg.From)
	if err != nil {
		return nil, err
	}
	if sess.PatientName == "" {
		sess.PatientName = msg.ProfileName
	}
	text := strings.ToLower(strings.TrimSpace(msg.Text))

	var reply *Reply
	step, ok := s.steps[sess.State]
	if resetCommands[text] || !ok {
		reply, err = s.start(ctx, sess)
	} else {
		reply, err = step(ctx, sess, msg)
	}
	if err != nil {
		return nil, err
	}

	sess.Options = reply.Options
	sess.UpdatedAt = time.Now().UTC()
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	s.logger.Debug("conversation step", "clinic_id", sess.ClinicID, "state", sess.State.String())
	return reply, nil
}

func (s *Sequencer) start(ctx context.Context, sess *Session) (*Reply, error) {
	sess.Reset()
	profile := s.profile(ctx, sess.ClinicID)

	services, err := s.catalog.ListServices(ctx, sess.ClinicID)
	if err != nil {
		return nil, err
	}
	greeting := strings.TrimSpace(profile.Greeting)
	if greeting == "" {
		greeting = fmt.Sprintf("Welcome to %s.", profile.Name)
	}
	if len(services) == 0 {
		return &Reply{Text: greeting + " Online booking is not available right now."}, nil
	}

	opts := make([]Option, 0, len(services))
	for _, svc := range services {
		opts = append(opts, Option{Value: svc.ID, Label: fmt.Sprintf("%s (%d min)", svc.Name, svc.Minutes)})
	}
	if err := sess.Move(StateChooseService); err != nil {
		return nil, err
	}
	return &Reply{Text: greeting + " Which service would you like to book?", Options: opts}, nil
}

func (s *Sequencer) chooseService(ctx context.Context, sess *Session, msg InboundMessage) (*Reply, error) {
	opt, ok := pick(sess.Options, msg.Text)
	if !ok {
		return reprompt(sess, "Please reply with the number of a service."), nil
	}
	services, err := s.catalog.ListServices(ctx, sess.ClinicID)
	if err != nil {
		return nil, err
	}
	var chosen *availability.Service
	for i := range services {
		if services[i].ID == opt.Value {
			chosen = &services[i]
		}
	}
	if chosen == nil {
		return s.start(ctx, sess)
	}
	sess.ServiceID, sess.ServiceName, sess.Minutes = chosen.ID, chosen.Name, chosen.Minutes

	if !s.profile(ctx, sess.ClinicID).DoctorSelectionEnabled {
		sess.DoctorID = ""
		return s.offerCalendar(ctx, sess, "")
	}
	doctors, err := s.catalog.ListDoctors(ctx, sess.ClinicID)
	if err != nil {
		return nil, err
	}
	if len(doctors) == 0 {
		return reprompt(sess, describe(availability.ErrNoDoctorsConfigured)), nil
	}
	opts := []Option{{Value: "", Label: "Any available doctor"}}
	for _, d := range doctors {
		opts = append(opts, Option{Value: d.ID, Label: d.Name})
	}
	if err := sess.Move(StateChooseDoctor); err != nil {
		return nil, err
	}
	return &Reply{Text: "Which doctor would you like to see?", Options: opts}, nil
}

func (s *Sequencer) chooseDoctor(ctx context.Context, sess *Session, msg InboundMessage) (*Reply, error) {
	opt, ok := pick(sess.Options, msg.Text)
	if !ok {
		return reprompt(sess, "Please reply with the number of a doctor."), nil
	}
	sess.DoctorID = opt.Value
	return s.offerCalendar(ctx, sess, "")
}

func (s *Sequencer) offerCalendar(ctx context.Context, sess *Session, prefix string) (*Reply, error) {
	days, err := s.avail.Calendar(ctx, s.query(sess, time.Time{}), time.Time{}, s.calendarDays)
	if err != nil {
		if recoverable(err) {
			return s.restartWith(ctx, sess, describe(err))
		}
		return nil, err
	}
	var opts []Option
	for _, d := range days {
		if !d.Bookable {
			continue
		}
		date, _ := time.Parse(schedule.DateLayout, d.Date)
		opts = append(opts, Option{Value: d.Date, Label: date.Format("Mon 02 Jan")})
	}
	if err := sess.Move(StateChooseDate); err != nil {
		return nil, err
	}
	sess.Date, sess.BlockID, sess.Slot = "", "", ""
	if len(opts) == 0 {
		return &Reply{Text: join(prefix, fmt.Sprintf(
			"There is no availability in the next %d days. Type a later date as YYYY-MM-DD or 'restart'.", s.calendarDays))}, nil
	}
	return &Reply{Text: join(prefix, "Pick a date, or type one as YYYY-MM-DD."), Options: opts}, nil
}

func (s *Sequencer) chooseDate(ctx context.Context, sess *Session, msg InboundMessage) (*Reply, error) {
	var date time.Time
	if opt, ok := pick(sess.Options, msg.Text); ok {
		date, _ = time.Parse(schedule.DateLayout, opt.Value)
	} else if parsed, err := time.Parse(schedule.DateLayout, strings.TrimSpace(msg.Text)); err == nil {
		date = parsed
	} else {
		return reprompt(sess, "Please pick a number from the list or type a date as YYYY-MM-DD."), nil
	}

	q := s.query(sess, date)
	ok, err := s.avail.IsDateBookable(ctx, q)
	if err != nil {
		if recoverable(err) {
			return reprompt(sess, describe(err)), nil
		}
		return nil, err
	}
	if ok {
		sess.Date = date.Format(schedule.DateLayout)
		return s.offerBlocks(ctx, sess, "")
	}

	nearest, err := s.avail.NearestBookableDates(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(nearest) == 0 {
		return &Reply{Text: "That date is not available and nothing is free nearby. Type another date or 'restart'."}, nil
	}
	opts := make([]Option, 0, len(nearest))
	for _, d := range nearest {
		opts = append(opts, Option{Value: d.Format(schedule.DateLayout), Label: d.Format("Mon 02 Jan")})
	}
	return &Reply{Text: "That date is not available. The nearest available dates are:", Options: opts}, nil
}

func (s *Sequencer) offerBlocks(ctx context.Context, sess *Session, prefix string) (*Reply, error) {
	date, _ := time.Parse(schedule.DateLayout, sess.Date)
	blocks, err := s.avail.AmPmBlocks(ctx, s.query(sess, date))
	if err != nil && !recoverable(err) {
		return nil, err
	}
	if err != nil || blocks.Empty() {
		return s.offerCalendar(ctx, sess, "That day is now fully booked.")
	}
	var opts []Option
	for _, b := range append(blocks.AM, blocks.PM...) {
		opts = append(opts, Option{Value: b.ID, Label: fmt.Sprintf("%s %s-%s", b.Period, b.Start, b.End)})
	}
	if err := sess.Move(StateChooseBlock); err != nil {
		return nil, err
	}
	sess.BlockID, sess.Slot = "", ""
	return &Reply{Text: join(prefix, fmt.Sprintf("Which time of day on %s?", date.Format("Mon 02 Jan"))), Options: opts}, nil
}

func (s *Sequencer) chooseBlock(ctx context.Context, sess *Session, msg InboundMessage) (*Reply, error) {
	opt, ok := pick(sess.Options, msg.Text)
	if !ok {
		return reprompt(sess, "Please reply with the number of a time range."), nil
	}
	sess.BlockID = opt.Value
	return s.offerSlots(ctx, sess, "")
}

func (s *Sequencer) offerSlots(ctx context.Context, sess *Session, prefix string) (*Reply, error) {
	date, _ := time.Parse(schedule.DateLayout, sess.Date)
	slots, err := s.avail.SlotsInBlock(ctx, s.query(sess, date), sess.BlockID)
	if err != nil && !recoverable(err) {
		return nil, err
	}
	if err != nil || len(slots) == 0 {
		return s.offerBlocks(ctx, sess, join(prefix, "Those times are no longer free."))
	}
	opts := make([]Option, 0, len(slots))
	for _, slot := range slots {
		label := slot.Start
		if slot.Disclosed {
			label = fmt.Sprintf("%s with %s", slot.Start, slot.Label)
		}
		opts = append(opts, Option{Value: slot.Start + "|" + slot.DoctorID, Label: label})
	}
	if err := sess.Move(StateChooseSlot); err != nil {
		return nil, err
	}
	sess.Slot, sess.SlotDoctor, sess.SlotLabel = "", "", ""
	return &Reply{Text: join(prefix, "Choose a start time:"), Options: opts}, nil
}

func (s *Sequencer) chooseSlot(ctx context.Context, sess *Session, msg InboundMessage) (*Reply, error) {
	opt, ok := pick(sess.Options, msg.Text)
	if !ok {
		return reprompt(sess, "Please reply with the number of a start time."), nil
	}
	start, doctorID, _ := strings.Cut(opt.Value, "|")
	sess.Slot, sess.SlotDoctor, sess.SlotLabel = start, doctorID, opt.Label
	if err := sess.Move(StateConfirm); err != nil {
		return nil, err
	}
	date, _ := time.Parse(schedule.DateLayout, sess.Date)
	text := fmt.Sprintf("Book %s on %s at %s?", sess.ServiceName, date.Format("Mon 02 Jan"), opt.Label)
	return &Reply{Text: text, Options: []Option{{Value: "yes", Label: "Yes, book it"}, {Value: "no", Label: "No, pick another time"}}}, nil
}

func (s *Sequencer) confirm(ctx context.Context, sess *Session, msg InboundMessage) (*Reply, error) {
	opt, ok := pick(sess.Options, msg.Text)
	if !ok {
		return reprompt(sess, "Please reply 1 to book or 2 to pick another time."), nil
	}
	if opt.Value != "yes" {
		return s.offerSlots(ctx, sess, "")
	}

	date, _ := time.Parse(schedule.DateLayout, sess.Date)
	start, err := schedule.ParseClock(sess.Slot)
	if err != nil {
		return s.offerSlots(ctx, sess, "")
	}
	res, err := s.writer.Create(ctx, bookings.NewBooking{
		ClinicID:      sess.ClinicID,
		DoctorID:      sess.SlotDoctor,
		ServiceID:     sess.ServiceID,
		PatientPhone:  sess.Phone,
		PatientName:   sess.PatientName,
		Date:          date,
		Start:         start,
		Minutes:       sess.Minutes,
		CorrelationID: msg.MessageID,
	})
	if err != nil {
		if recoverable(err) {
			s.logger.Info("booking rejected at confirmation", "clinic_id", sess.ClinicID, "error", err)
			return s.offerSlots(ctx, sess, "Sorry, that time was just taken.")
		}
		return nil, err
	}

	if err := sess.Move(StateBooked); err != nil {
		return nil, err
	}
	sess.BookingID = res.Booking.ID.String()
	return &Reply{Text: fmt.Sprintf("Your request for %s on %s at %s is received and pending clinic confirmation. Reference %s.",
		sess.ServiceName, date.Format("Mon 02 Jan"), sess.Slot, sess.BookingID[:8])}, nil
}

func (s *Sequencer) restartWith(ctx context.Context, sess *Session, prefix string) (*Reply, error) {
	reply, err := s.start(ctx, sess)
	if err != nil {
		return nil, err
	}
	reply.Text = join(prefix, reply.Text)
	return reply, nil
}

func (s *Sequencer) query(sess *Session, date time.Time) availability.Query {
	return availability.Query{
		ClinicID:  sess.ClinicID,
		DoctorID:  sess.DoctorID,
		ServiceID: sess.ServiceID,
		Date:      date,
		Minutes:   sess.Minutes,
	}
}

func (s *Sequencer) profile(ctx context.Context, clinicID string) *clinic.Profile {
	p, err := s.profiles.GetProfile(ctx, clinicID)
	if err != nil || p == nil {
		if err != nil {
			s.logger.Warn("failed to load clinic profile", "clinic_id", clinicID, "error", err)
		}
		return clinic.DefaultProfile(clinicID)
	}
	return p
}

// pick resolves a reply against the offered options by number, value or label.
func pick(opts []Option, text string) (Option, bool) {
	text = strings.TrimSpace(text)
	if n, err := strconv.Atoi(text); err == nil {
		if n >= 1 && n <= len(opts) {
			return opts[n-1], true
		}
		return Option{}, false
	}
	for _, opt := range opts {
		if (opt.Value != "" && strings.EqualFold(opt.Value, text)) || strings.EqualFold(opt.Label, text) {
			return opt, true
		}
	}
	return Option{}, false
}

func reprompt(sess *Session, text string) *Reply {
	return &Reply{Text: text, Options: sess.Options}
}

func join(prefix, text string) string {
	if prefix == "" {
		return text
	}
	return prefix + " " + text
}

func recoverable(err error) bool {
	for _, target := range []error{
		bookings.ErrWriteConflict,
		availability.ErrSlotBooked, availability.ErrDoctorUnavailable, availability.ErrOutsideHours,
		availability.ErrAllDoctorsBooked, availability.ErrNoAvailableDoctors, availability.ErrNoDoctorsConfigured,
		availability.ErrClosedDay, availability.ErrNoFeasibleSlot, availability.ErrInvalidDuration,
		availability.ErrUnknownDoctor, availability.ErrInvalidBlock,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func describe(err error) string {
	switch {
	case errors.Is(err, availability.ErrNoDoctorsConfigured):
		return "No doctors are set up for this clinic yet."
	case errors.Is(err, availability.ErrInvalidDuration):
		return "That service cannot be booked online."
	case errors.Is(err, availability.ErrUnknownDoctor):
		return "That doctor is no longer available for booking."
	default:
		return "That choice is no longer available."
	}
}
