// Package matching scores HTTP requests against mock request criteria.
//
// Every criterion that is set must match; each one adds a weight to the
// score, and more specific criteria weigh more (exact path over wildcard,
// body equality over substring). A score of zero means no match. The
// engine picks the highest score and breaks ties by priority.
//
// Criteria are compiled once with Compile so regular expressions and
// JSONPath expressions are parsed at load time rather than per request.
package matching
