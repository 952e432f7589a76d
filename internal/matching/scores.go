package matching

// Weights added per matched criterion.
const (
	ScoreMethod = 10

	ScorePathExact       = 15
	ScorePathPattern     = 14
	ScorePathNamedParams = 12
	ScorePathWildcard    = 10

	ScoreHeader     = 10
	ScoreQueryParam = 5

	ScoreBodyEquals   = 25
	ScoreBodyPattern  = 22
	ScoreBodyContains = 20

	// ScoreJSONPathCondition is added per matched JSONPath condition.
	ScoreJSONPathCondition = 15

	// ScoreAny is the score of empty criteria, which match everything.
	ScoreAny = 1
)
