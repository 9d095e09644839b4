package textmatch

// synonymGroups are the staffing-domain equivalence classes used by Expand.
// A token in any group pulls in every other member of that group.
var synonymGroups = [][]string{
	{"pay", "paid", "payment", "payments", "salary", "wage", "wages", "payout", "money", "earnings"},
	{"shift", "shifts", "schedule", "rota", "timetable"},
	{"cancel", "cancellation", "cancelled", "canceled", "cancelling", "withdraw"},
	{"job", "jobs", "work", "gig", "gigs", "position", "vacancy"},
	{"location", "located", "address", "place", "venue", "site"},
	{"document", "documents", "papers", "passport", "id", "identification"},
	{"register", "registration", "signup", "enroll", "enrol"},
	{"contact", "phone", "call", "support", "manager"},
	{"hours", "time", "duration"},
	{"uniform", "dress", "clothes", "outfit"},
	{"rating", "ratings", "review", "reviews", "stars"},
	{"bonus", "bonuses", "reward", "rewards", "points"},
}

var synonymIndex = buildSynonymIndex(synonymGroups)

func buildSynonymIndex(groups [][]string) map[string]int {
	idx := make(map[string]int)
	for i, group := range groups {
		for _, word := range group {
			if _, exists := idx[word]; !exists {
				idx[word] = i
			}
		}
	}
	return idx
}
