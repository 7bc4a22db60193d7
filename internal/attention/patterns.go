package attention

import "regexp"

// Built-in question patterns: terminal question mark, leading WH-word or
// auxiliary verb, second-person reference inside a question.
var defaultQuestionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\?\s*$`),
	regexp.MustCompile(`^(who|what|when|where|why|how|which|whose|whom)\b`),
	regexp.MustCompile(`^(is|are|was|were|am|do|does|did|can|could|will|would|should|shall|may|might|have|has|had)\b`),
	regexp.MustCompile(`\byour?\b.*\?`),
}

// Built-in direct-address patterns: greeting followed by a name, formal
// address terms, apology openers, imperative attention grabbers.
var defaultAddressPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(hey|hi|hello|yo)\b\s+\S+`),
	regexp.MustCompile(`\b(sir|madam|ma'am|mister|mr|mrs|ms|miss|buddy|mate|dude)\b`),
	regexp.MustCompile(`\b(excuse me|pardon me)\b`),
	regexp.MustCompile(`^(look|listen)\b`),
}

func clonePatterns(src []*regexp.Regexp) []*regexp.Regexp {
	return append([]*regexp.Regexp(nil), src...)
}
