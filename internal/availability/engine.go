package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/wolfman30/clinic-scheduler/internal/observability/metrics"
	"github.com/wolfman30/clinic-scheduler/internal/schedule"
	"github.com/wolfman30/clinic-scheduler/pkg/logging"
)

const (
	defaultNearestRadius = 30
	defaultNearestLimit  = 8
	blockMinutes         = 120

	// UndisclosedLabel is shown instead of a doctor's name when the clinic assigns doctors.
	UndisclosedLabel = "Assigned by clinic"
)

// Engine evaluates availability against live store data. It holds no per-request state
// and is safe for concurrent use.
type Engine struct {
	settings    SettingsReader
	commitments CommitmentReader
	doctors     DoctorDirectory
	services    ServiceReader
	postVisits  PostVisitCounter
	metrics     *metrics.AvailabilityMetrics
	logger      *logging.Logger

	now           func() time.Time
	step          int
	nearestRadius int
	nearestLimit  int
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the engine's notion of now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithStep sets the slot grid in minutes.
func WithStep(step int) Option {
	return func(e *Engine) {
		if step > 0 {
			e.step = step
		}
	}
}

// WithNearestSearch bounds NearestBookableDates.
func WithNearestSearch(radiusDays, limit int) Option {
	return func(e *Engine) {
		if radiusDays > 0 {
			e.nearestRadius = radiusDays
		}
		if limit > 0 {
			e.nearestLimit = limit
		}
	}
}

// WithServices enables duration lookup for queries that only name a service.
func WithServices(s ServiceReader) Option {
	return func(e *Engine) { e.services = s }
}

// WithPostVisitCounter feeds post-visit case counts into least-busy scoring.
func WithPostVisitCounter(p PostVisitCounter) Option {
	return func(e *Engine) { e.postVisits = p }
}

// WithMetrics records query counts and latency.
func WithMetrics(m *metrics.AvailabilityMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine wires the engine to its collaborators.
func NewEngine(settings SettingsReader, commitments CommitmentReader, doctors DoctorDirectory, logger *logging.Logger, opts ...Option) *Engine {
	if settings == nil {
		panic("availability: settings reader required")
	}
	if commitments == nil {
		panic("availability: commitment reader required")
	}
	if doctors == nil {
		panic("availability: doctor directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		settings:      settings,
		commitments:   commitments,
		doctors:       doctors,
		logger:        logger,
		now:           time.Now,
		step:          schedule.DefaultStep,
		nearestRadius: defaultNearestRadius,
		nearestLimit:  defaultNearestLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Step returns the slot grid in minutes.
func (e *Engine) Step() int {
	return e.step
}

// Variant returns the strategy bundle configured for the clinic.
func (e *Engine) Variant(ctx context.Context, clinicID string) (Variant, error) {
	s, err := e.settings.Settings(ctx, clinicID)
	if err != nil {
		return Variant{}, fmt.Errorf("availability: load settings: %w", err)
	}
	return VariantByName(s.Variant), nil
}

// ResolveDay returns the effective operating window for q.Date.
func (e *Engine) ResolveDay(ctx context.Context, clinicID string, date time.Time) (schedule.Day, error) {
	s, err := e.settings.Settings(ctx, clinicID)
	if err != nil {
		return schedule.Day{}, fmt.Errorf("availability: load settings: %w", err)
	}
	return schedule.Resolve(s.Schedule, inLocation(date, s.Schedule.Location())), nil
}

// IsFeasible answers the overlap question for one start time. For "any" queries it runs
// the selection policy and reports the doctor that would be assigned.
func (e *Engine) IsFeasible(ctx context.Context, q Query, start schedule.Clock) (Verdict, error) {
	began := time.Now()
	p, err := e.plan(ctx, q)
	if err != nil {
		e.observe("feasible", err, began)
		return Verdict{Reason: ReasonError}, err
	}
	v := p.verdict(start)
	e.observe("feasible", nil, began)
	return v, nil
}

// SelectDoctor picks the doctor for a booking at start and describes how to present it.
func (e *Engine) SelectDoctor(ctx context.Context, q Query, start schedule.Clock) (Selection, error) {
	began := time.Now()
	p, err := e.plan(ctx, q)
	if err != nil {
		e.observe("select", err, began)
		return Selection{}, err
	}
	sel, err := p.selectAt(start)
	e.observe("select", err, began)
	return sel, err
}

// IsDateBookable reports whether at least one slot on q.Date is feasible.
func (e *Engine) IsDateBookable(ctx context.Context, q Query) (bool, error) {
	began := time.Now()
	p, err := e.plan(ctx, q)
	if err != nil {
		e.observe("date", err, began)
		return false, err
	}
	ok := p.bookable()
	e.observe("date", nil, began)
	return ok, nil
}

// DayStatus is one entry of the calendar view.
type DayStatus struct {
	Date     string `json:"date"`
	Weekday  string `json:"weekday"`
	Open     bool   `json:"open"`
	Bookable bool   `json:"bookable"`
}

// Calendar evaluates days consecutive dates starting at from, or at today in the
// clinic's time zone when from is zero.
func (e *Engine) Calendar(ctx context.Context, q Query, from time.Time, days int) ([]DayStatus, error) {
	began := time.Now()
	if from.IsZero() {
		s, err := e.settings.Settings(ctx, q.ClinicID)
		if err != nil {
			e.observe("calendar", err, began)
			return nil, fmt.Errorf("availability: load settings: %w", err)
		}
		from = e.now().In(s.Schedule.Location())
	}
	out := make([]DayStatus, 0, days)
	for i := 0; i < days; i++ {
		dq := q
		dq.Date = from.AddDate(0, 0, i)
		p, err := e.plan(ctx, dq)
		if err != nil {
			e.observe("calendar", err, began)
			return nil, err
		}
		out = append(out, DayStatus{
			Date:     p.day.Date.Format(schedule.DateLayout),
			Weekday:  p.day.Date.Weekday().String(),
			Open:     p.day.Open,
			Bookable: p.bookable(),
		})
	}
	e.observe("calendar", nil, began)
	return out, nil
}

// Block is a two-hour band of the day offered to the patient.
type Block struct {
	ID        string `json:"id"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Period    string `json:"period"`
	SlotCount int    `json:"slot_count"`
}

// Blocks groups offered blocks by half of the day.
type Blocks struct {
	Date string  `json:"date"`
	AM   []Block `json:"am"`
	PM   []Block `json:"pm"`
}

// Empty reports whether no block is offered.
func (b Blocks) Empty() bool {
	return len(b.AM) == 0 && len(b.PM) == 0
}

// AmPmBlocks partitions the day into two-hour blocks starting at the window's first hour
// and returns the ones holding at least one feasible slot.
func (e *Engine) AmPmBlocks(ctx context.Context, q Query) (Blocks, error) {
	began := time.Now()
	p, err := e.plan(ctx, q)
	if err != nil {
		e.observe("blocks", err, began)
		return Blocks{}, err
	}
	out := Blocks{Date: p.day.Date.Format(schedule.DateLayout)}
	if !p.day.Open {
		e.observe("blocks", nil, began)
		return out, nil
	}

	feasible := p.feasibleStarts()
	first := schedule.Clock(p.day.Start.Hour() * 60)
	for bs := first; bs < p.day.End; bs = bs.Add(blockMinutes) {
		be := bs.Add(blockMinutes)
		count := 0
		for _, c := range feasible {
			if c >= bs && c < be {
				count++
			}
		}
		if count == 0 {
			continue
		}
		// The id stays on the two-hour grid; the shown range stays inside opening hours.
		shown := schedule.Interval{Start: max(bs, p.day.Start), End: min(be, p.day.End)}
		b := Block{
			ID:        BlockID(bs, e.step),
			Start:     shown.Start.String(),
			End:       shown.End.String(),
			SlotCount: count,
		}
		if bs < 12*60 {
			b.Period = "AM"
			out.AM = append(out.AM, b)
		} else {
			b.Period = "PM"
			out.PM = append(out.PM, b)
		}
	}
	e.observe("blocks", nil, began)
	return out, nil
}

// BlockID renders "first start-last start", e.g. 09:00-10:45 for a 15 minute grid.
func BlockID(start schedule.Clock, step int) string {
	if step <= 0 {
		step = schedule.DefaultStep
	}
	return start.String() + "-" + start.Add(blockMinutes-step).String()
}

// ParseBlockID returns the block's half-open range.
func ParseBlockID(id string) (schedule.Interval, error) {
	if len(id) != 11 || id[5] != '-' {
		return schedule.Interval{}, fmt.Errorf("%w: %q", ErrInvalidBlock, id)
	}
	start, err := schedule.ParseClock(id[:5])
	if err != nil {
		return schedule.Interval{}, fmt.Errorf("%w: %q", ErrInvalidBlock, id)
	}
	last, err := schedule.ParseClock(id[6:])
	if err != nil || last < start {
		return schedule.Interval{}, fmt.Errorf("%w: %q", ErrInvalidBlock, id)
	}
	return schedule.Interval{Start: start, End: start.Add(blockMinutes)}, nil
}

// SlotOption is a concrete start time offered inside a block.
type SlotOption struct {
	Start     string `json:"start"`
	DoctorID  string `json:"doctor_id"`
	Label     string `json:"label"`
	Disclosed bool   `json:"disclosed"`
}

// SlotsInBlock lists feasible starts inside blockID, each tagged with the doctor the
// selection policy would assign.
func (e *Engine) SlotsInBlock(ctx context.Context, q Query, blockID string) ([]SlotOption, error) {
	began := time.Now()
	block, err := ParseBlockID(blockID)
	if err != nil {
		e.observe("slots", err, began)
		return nil, err
	}
	p, err := e.plan(ctx, q)
	if err != nil {
		e.observe("slots", err, began)
		return nil, err
	}
	var out []SlotOption
	for _, c := range p.candidates() {
		if !block.Contains(c) {
			continue
		}
		sel, err := p.selectAt(c)
		if err != nil {
			continue
		}
		out = append(out, SlotOption{
			Start:     c.String(),
			DoctorID:  sel.DoctorID,
			Label:     sel.Label,
			Disclosed: sel.Disclosed,
		})
	}
	e.observe("slots", nil, began)
	return out, nil
}

// NearestBookableDates searches outward from q.Date, trying the later date before the
// earlier one at each distance, skipping dates before today. Results are ascending.
func (e *Engine) NearestBookableDates(ctx context.Context, q Query) ([]time.Time, error) {
	began := time.Now()
	s, err := e.settings.Settings(ctx, q.ClinicID)
	if err != nil {
		e.observe("nearest", err, began)
		return nil, fmt.Errorf("availability: load settings: %w", err)
	}
	loc := s.Schedule.Location()
	base := inLocation(q.Date, loc)
	today := schedule.DateOnly(e.now().In(loc))

	var found []time.Time
	for dist := 1; dist <= e.nearestRadius && len(found) < e.nearestLimit; dist++ {
		for _, d := range []time.Time{base.AddDate(0, 0, dist), base.AddDate(0, 0, -dist)} {
			if d.Before(today) {
				continue
			}
			dq := q
			dq.Date = d
			p, err := e.plan(ctx, dq)
			if err != nil {
				e.observe("nearest", err, began)
				return nil, err
			}
			if p.bookable() {
				found = append(found, d)
				if len(found) == e.nearestLimit {
					break
				}
			}
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Before(found[j]) })
	e.observe("nearest", nil, began)
	return found, nil
}

func (e *Engine) observe(level string, err error, began time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics.ObserveQuery(level, outcome, time.Since(began).Seconds())
}

func inLocation(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
