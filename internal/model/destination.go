package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidQuery is returned when a contributor query is malformed.
var ErrInvalidQuery = errors.New("invalid contributor query")

// ComponentDestination pairs a contributor with the destination further
// requests for it should be sent to.
type ComponentDestination struct {
	ContributorID string `json:"contributor_id"`
	Destination   string `json:"destination"`
}

func (d ComponentDestination) String() string {
	return fmt.Sprintf("%s@%s", d.ContributorID, d.Destination)
}

// ContributorQuery restricts a paged request to one contributor's data window.
type ContributorQuery struct {
	ContributorID string     `json:"contributor_id"`
	MinTimestamp  *time.Time `json:"min_timestamp,omitempty"`
	MaxTimestamp  *time.Time `json:"max_timestamp,omitempty"`
	MaxResults    *int       `json:"max_results,omitempty"`
}

// NewContributorQuery validates and builds a query. Any of minTimestamp,
// maxTimestamp and maxResults may be nil.
func NewContributorQuery(contributorID string, minTimestamp, maxTimestamp *time.Time, maxResults *int) (ContributorQuery, error) {
	if contributorID == "" {
		return ContributorQuery{}, fmt.Errorf("%w: empty contributor id", ErrInvalidQuery)
	}
	if minTimestamp != nil && maxTimestamp != nil && minTimestamp.After(*maxTimestamp) {
		return ContributorQuery{}, fmt.Errorf("%w: min timestamp %s is after max timestamp %s",
			ErrInvalidQuery, minTimestamp.Format(time.RFC3339), maxTimestamp.Format(time.RFC3339))
	}
	if maxResults != nil && *maxResults < 0 {
		return ContributorQuery{}, fmt.Errorf("%w: negative max results %d", ErrInvalidQuery, *maxResults)
	}

	return ContributorQuery{
		ContributorID: contributorID,
		MinTimestamp:  minTimestamp,
		MaxTimestamp:  maxTimestamp,
		MaxResults:    maxResults,
	}, nil
}

// ContributorIDs returns the contributor ids of the queries in order.
func ContributorIDs(queries []ContributorQuery) []string {
	ids := make([]string, 0, len(queries))
	for _, q := range queries {
		ids = append(ids, q.ContributorID)
	}
	return ids
}
