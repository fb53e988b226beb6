package conversation

import (
	"time"

	"go.uber.org/zap"

	"github.com/bitrepository/reference-sub015/internal/model"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

// Outcome is the result of processing one identify response.
type Outcome int

const (
	// OutcomeSelected means the contributor will perform the operation.
	OutcomeSelected Outcome = iota + 1
	// OutcomeAbsent means the contributor answered that it has nothing to do.
	OutcomeAbsent
	// OutcomeDuplicate means an identical repeated response was ignored.
	OutcomeDuplicate
	// OutcomeConflict means a repeated response disagreed with the first one,
	// which was kept.
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSelected:
		return "selected"
	case OutcomeAbsent:
		return "absent"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeConflict:
		return "conflict"
	}
	return "unknown"
}

// SelectedContributor is a contributor chosen to perform the operation.
type SelectedContributor struct {
	model.ComponentDestination

	// TimeToDeliver is the contributor's delivery estimate, if it gave one.
	TimeToDeliver *time.Duration
}

type identifyAnswer struct {
	destination string
	code        model.ResponseCode
}

// Selector consumes identify responses and builds the list of contributors
// that should receive the operation request. Like ResponseStatus it relies on
// the owning conversation for synchronisation.
type Selector struct {
	strategy Strategy
	status   *ResponseStatus
	selected []SelectedContributor
	answers  map[string]identifyAnswer
	absent   int
	log      *logger.Logger
}

// NewSelector expects identify responses from contributors.
func NewSelector(contributors []string, strategy Strategy, log *logger.Logger) *Selector {
	if log == nil {
		log = logger.NewNop()
	}
	return &Selector{
		strategy: strategy,
		status:   NewResponseStatus(contributors),
		answers:  make(map[string]identifyAnswer, len(contributors)),
		log:      log,
	}
}

// ProcessResponse handles one identify response. Errors describe a failure
// of that single contributor and never of the whole selection.
func (s *Selector) ProcessResponse(msg *model.Message) (Outcome, error) {
	id := msg.ContributorID
	destination := msg.ReplyTo
	if destination == "" {
		destination = msg.From
	}

	if first, ok := s.answers[id]; ok {
		if first.destination == destination && first.code == msg.ResponseCode() {
			s.log.Debug("ignoring repeated identify response",
				zap.String("contributor_id", id),
				zap.String("destination", destination),
			)
			return OutcomeDuplicate, nil
		}
		s.log.Warn("conflicting identify response, keeping the first",
			zap.String("contributor_id", id),
			zap.String("first_destination", first.destination),
			zap.String("first_code", string(first.code)),
			zap.String("destination", destination),
			zap.String("code", string(msg.ResponseCode())),
		)
		return OutcomeConflict, nil
	}

	if err := s.status.ResponseReceived(id); err != nil {
		return 0, err
	}
	s.answers[id] = identifyAnswer{destination: destination, code: msg.ResponseCode()}

	if msg.ResponseInfo == nil {
		return 0, unexpected(id, "missing response info")
	}
	code := msg.ResponseInfo.Code
	if s.strategy.IsAbsent(code) {
		s.absent++
		return OutcomeAbsent, nil
	}
	if code != model.ResponseIdentificationPositive {
		return 0, &NegativeResponseError{ContributorID: id, Info: *msg.ResponseInfo}
	}
	if destination == "" {
		return 0, unexpected(id, "missing reply destination")
	}

	s.selected = append(s.selected, SelectedContributor{
		ComponentDestination: model.ComponentDestination{ContributorID: id, Destination: destination},
		TimeToDeliver:        msg.TimeToDeliver,
	})
	return OutcomeSelected, nil
}

// IsFinished reports whether every expected contributor has answered.
func (s *Selector) IsFinished() bool {
	return s.status.IsFinished()
}

// Outstanding returns the contributors that have not answered yet.
func (s *Selector) Outstanding() []string {
	return s.status.Outstanding()
}

// Answered reports whether contributorID was expected and has answered.
func (s *Selector) Answered(contributorID string) bool {
	_, ok := s.answers[contributorID]
	return ok
}

// Responded returns the number of contributors that answered.
func (s *Selector) Responded() int {
	return len(s.answers)
}

// AllAbsent reports whether at least one contributor answered and every
// answer said it had nothing to do.
func (s *Selector) AllAbsent() bool {
	return s.absent > 0 && s.absent == len(s.answers)
}

// SelectedContributors returns the chosen contributors in arrival order, or
// the single fastest one under SelectFastest.
func (s *Selector) SelectedContributors() []SelectedContributor {
	if s.strategy.Selection == SelectFastest && len(s.selected) > 1 {
		best := 0
		for i := 1; i < len(s.selected); i++ {
			if faster(s.selected[i], s.selected[best]) {
				best = i
			}
		}
		return []SelectedContributor{s.selected[best]}
	}
	return append([]SelectedContributor(nil), s.selected...)
}

// faster orders by time to deliver; contributors without an estimate come last.
func faster(a, b SelectedContributor) bool {
	if a.TimeToDeliver == nil {
		return false
	}
	if b.TimeToDeliver == nil {
		return true
	}
	return *a.TimeToDeliver < *b.TimeToDeliver
}
