package crm

import "github.com/user/meetbot/internal/types"

// Policy holds the CRM field values derived from a lead category.
type Policy struct {
	Status          string   `json:"status"`
	Priority        string   `json:"priority"`
	FollowUpDays    int      `json:"follow_up_days"`
	Recommendations []string `json:"recommendations,omitempty"`
	Actions         []string `json:"actions,omitempty"`
}

// fallbackPolicy applies to categories missing from the table.
var fallbackPolicy = Policy{
	Status:          "NEW",
	Priority:        "1",
	FollowUpDays:    3,
	Recommendations: []string{"Standard lead handling"},
	Actions:         []string{"Process the lead following the standard procedure"},
}

// DefaultPolicies is the category table used when configuration has none.
func DefaultPolicies() map[types.Category]Policy {
	return map[types.Category]Policy{
		types.CategoryA: {
			Status:       "IN_PROCESS",
			Priority:     "2",
			FollowUpDays: 1,
			Recommendations: []string{
				"Prepare a commercial proposal urgently",
				"Book a follow-up meeting within 1-2 days",
				"Prepare individual terms",
				"Work through objections and rollout details",
			},
			Actions: []string{
				"Send a personal proposal within a day",
				"Arrange a meeting with the decision maker",
				"Draft the statement of work",
				"Prepare the contract",
			},
		},
		types.CategoryB: {
			Status:       "PROCESSED",
			Priority:     "1",
			FollowUpDays: 3,
			Recommendations: []string{
				"Send the service presentation",
				"Schedule a call in a week",
				"Collect relevant case studies",
				"Discuss a pilot project",
			},
			Actions: []string{
				"Send the company presentation",
				"Schedule a call in 3-5 days",
				"Prepare case studies of similar projects",
				"Discuss a pilot",
			},
		},
		types.CategoryC: {
			Status:       "JUNK",
			Priority:     "0",
			FollowUpDays: 7,
			Recommendations: []string{
				"Add to the newsletter list",
				"Plan another contact in a month",
				"Find out why the client declined",
			},
			Actions: []string{
				"Add to nurturing",
				"Plan a repeat contact in 30 days",
				"Analyze the reasons for the refusal",
			},
		},
	}
}

// PolicyFor returns the policy for c from table, or the fallback.
func PolicyFor(table map[types.Category]Policy, c types.Category) Policy {
	if p, ok := table[c]; ok {
		return p
	}
	return fallbackPolicy
}
