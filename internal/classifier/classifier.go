// Package classifier turns the free-text output of an enrollment worker into a
// typed domain.Outcome.
//
// The worker has no structured channel back to us, so the decision is an
// ordered table of rules evaluated top to bottom; the first match wins.
// Order matters: a duplicate-submission signal beats a later success marker
// because the worker may print both.
package classifier

import (
	"github.com/timmy/enrollflow/internal/domain"
)

// DefaultWindow is how many trailing characters field extraction looks at.
const DefaultWindow = 20000

// Input is everything the classifier needs about a finished run.
type Input struct {
	ExitCode int
	Output   string
	// RequestedCampus is the campus the caller asked for; used when the worker
	// does not echo which campus it searched.
	RequestedCampus string
	TimedOut        bool
}

// Rule is one row of the decision table.
type Rule struct {
	Name  string
	Match func(p *View) bool
	Build func(p *View) domain.Outcome
}

// Classifier evaluates Rules in order.
type Classifier struct {
	window int
	rules  []Rule
}

// New creates a classifier with the standard rule table.
// A window <= 0 uses DefaultWindow.
func New(window int) *Classifier {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Classifier{window: window, rules: DefaultRules()}
}

// Rules returns the table in evaluation order.
func (c *Classifier) Rules() []Rule {
	return c.rules
}

// Classify maps a finished run to exactly one outcome.
func (c *Classifier) Classify(in Input) domain.Outcome {
	p := newView(in, c.window)
	for _, r := range c.rules {
		if r.Match(p) {
			return r.Build(p)
		}
	}
	// DefaultRules always terminates, this only guards a custom table.
	return domain.NotFinalized{}
}

// Classify runs the standard table with the default window.
func Classify(exitCode int, output string) domain.Outcome {
	return New(DefaultWindow).Classify(Input{ExitCode: exitCode, Output: output})
}

// DefaultRules is the priority-ordered decision table.
func DefaultRules() []Rule {
	return []Rule{
		{
			// an abandoned worker's partial output is never trusted
			Name:  "timed_out",
			Match: func(p *View) bool { return p.in.TimedOut },
			Build: func(p *View) domain.Outcome {
				return domain.ProcessFailed{ExitCode: p.in.ExitCode, TimedOut: true}
			},
		},
		{
			Name:  "duplicate_submission",
			Match: func(p *View) bool { return p.Contains(duplicateMarkers...) },
			Build: func(*View) domain.Outcome { return domain.Duplicate{} },
		},
		{
			Name:  "address_not_found",
			Match: func(p *View) bool { return p.Contains(addressMarkers...) },
			Build: func(*View) domain.Outcome { return domain.AddressNotFound{} },
		},
		{
			Name:  "campus_not_found",
			Match: func(p *View) bool { return p.Contains(campusMarkers...) },
			Build: func(p *View) domain.Outcome {
				requested := p.LastMatch(requestedCampusPattern)
				if requested == "" {
					requested = p.in.RequestedCampus
				}
				return domain.CampusNotFound{Requested: requested}
			},
		},
		{
			Name:  "checkout_failed",
			Match: func(p *View) bool { return p.Contains(checkoutMarkers...) },
			Build: func(*View) domain.Outcome { return domain.CheckoutFailed{} },
		},
		{
			Name: "finalized",
			Match: func(p *View) bool {
				return p.Contains(successMarkers...) && !p.Contains(notFinalizedMarkers...)
			},
			Build: func(p *View) domain.Outcome { return extractSuccess(p) },
		},
		{
			Name:  "not_finalized",
			Match: func(p *View) bool { return p.Contains(notFinalizedMarkers...) },
			Build: func(*View) domain.Outcome { return domain.NotFinalized{} },
		},
		{
			Name:  "process_failed",
			Match: func(p *View) bool { return p.in.ExitCode != 0 },
			Build: func(p *View) domain.Outcome { return domain.ProcessFailed{ExitCode: p.in.ExitCode} },
		},
		{
			// silence is not success
			Name:  "silent_exit",
			Match: func(*View) bool { return true },
			Build: func(*View) domain.Outcome { return domain.NotFinalized{} },
		},
	}
}
