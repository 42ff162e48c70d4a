// Package metrics aggregates funnel rows into stage counts, conversion rates,
// trend series, weekly summaries and breakdowns. Every function is pure.
package metrics

import (
	"github.com/vinodismyname/funnelsnap/internal/funnel"
)

// StageCounts holds one count per funnel stage.
type StageCounts struct {
	Loaded      int `json:"loaded"`
	Progressed  int `json:"progressed"`
	Contacted   int `json:"contacted"`
	Appointment int `json:"appointment"`
	Attended    int `json:"attended"`
	Enrolled    int `json:"enrolled"`
}

// Get returns the count for a stage.
func (c StageCounts) Get(s funnel.Stage) int {
	switch s {
	case funnel.StageLoaded:
		return c.Loaded
	case funnel.StageProgressed:
		return c.Progressed
	case funnel.StageContacted:
		return c.Contacted
	case funnel.StageAppointment:
		return c.Appointment
	case funnel.StageAttended:
		return c.Attended
	case funnel.StageEnrolled:
		return c.Enrolled
	}
	return 0
}

// Add accumulates o into c.
func (c *StageCounts) Add(o StageCounts) {
	c.Loaded += o.Loaded
	c.Progressed += o.Progressed
	c.Contacted += o.Contacted
	c.Appointment += o.Appointment
	c.Attended += o.Attended
	c.Enrolled += o.Enrolled
}

// Rates are the six funnel conversion rates. A nil rate means the
// denominator was zero.
type Rates struct {
	ProgressedLoaded     *float64 `json:"progressedLoaded"`
	ContactedProgressed  *float64 `json:"contactedProgressed"`
	AppointmentContacted *float64 `json:"appointmentContacted"`
	AttendedAppointment  *float64 `json:"attendedAppointment"`
	EnrolledAttended     *float64 `json:"enrolledAttended"`
	EnrolledLoaded       *float64 `json:"enrolledLoaded"`
}

// All returns the rates in funnel order.
func (r Rates) All() []*float64 {
	return []*float64{r.ProgressedLoaded, r.ContactedProgressed, r.AppointmentContacted,
		r.AttendedAppointment, r.EnrolledAttended, r.EnrolledLoaded}
}

// Totals summarizes a row set.
type Totals struct {
	// Rows counts rows per stage.
	Rows StageCounts `json:"rows"`
	// Unique counts distinct normalized identifiers per stage.
	Unique StageCounts `json:"unique"`
	Rates  Rates       `json:"rates"`
}

type mask uint8

const (
	bitLoaded mask = 1 << iota
	bitProgressed
	bitContacted
	bitAppointment
	bitAttended
	bitEnrolled
)

func rowMask(r *funnel.DataRow) mask {
	m := bitLoaded
	if funnel.IsProgressed(r) {
		m |= bitProgressed
	}
	if funnel.IsContacted(r) {
		m |= bitContacted
	}
	if funnel.IsAppointment(r) {
		m |= bitAppointment
	}
	if funnel.IsAttended(r) {
		m |= bitAttended
	}
	if funnel.IsEnrolled(r) {
		m |= bitEnrolled
	}
	return m
}

func (m mask) counts() StageCounts {
	var c StageCounts
	if m&bitLoaded != 0 {
		c.Loaded = 1
	}
	if m&bitProgressed != 0 {
		c.Progressed = 1
	}
	if m&bitContacted != 0 {
		c.Contacted = 1
	}
	if m&bitAppointment != 0 {
		c.Appointment = 1
	}
	if m&bitAttended != 0 {
		c.Attended = 1
	}
	if m&bitEnrolled != 0 {
		c.Enrolled = 1
	}
	return c
}

// tally accumulates row counts and per-identifier stage masks.
type tally struct {
	rows StageCounts
	ids  map[string]mask
}

func newTally() *tally { return &tally{ids: map[string]mask{}} }

func (t *tally) add(r *funnel.DataRow) {
	m := rowMask(r)
	t.rows.Add(m.counts())
	if id := funnel.NormalizeRut(r.RutBase); id != "" {
		t.ids[id] |= m
	}
}

func (t *tally) unique() StageCounts {
	var c StageCounts
	for _, m := range t.ids {
		c.Add(m.counts())
	}
	return c
}

// rates divides, for each stage pair, the identifiers in both stages by the
// identifiers in the earlier stage.
func (t *tally) rates() Rates {
	both := func(later, earlier mask) *float64 {
		var num, den int
		for _, m := range t.ids {
			if m&earlier == 0 {
				continue
			}
			den++
			if m&later != 0 {
				num++
			}
		}
		return ratio(num, den)
	}
	return Rates{
		ProgressedLoaded:     both(bitProgressed, bitLoaded),
		ContactedProgressed:  both(bitContacted, bitProgressed),
		AppointmentContacted: both(bitAppointment, bitContacted),
		AttendedAppointment:  both(bitAttended, bitAppointment),
		EnrolledAttended:     both(bitEnrolled, bitAttended),
		EnrolledLoaded:       both(bitEnrolled, bitLoaded),
	}
}

func (t *tally) totals() Totals {
	return Totals{Rows: t.rows, Unique: t.unique(), Rates: t.rates()}
}

func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den)
	return &v
}

// ComputeTotals counts every stage over rows, both per row and per unique
// identifier, and derives the six rates from unique identifiers.
func ComputeTotals(rows []funnel.DataRow) Totals {
	t := newTally()
	for i := range rows {
		t.add(&rows[i])
	}
	return t.totals()
}
