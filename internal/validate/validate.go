// Package validate performs static safety checks on user-authored scripts
// before they reach the execution engine. It rejects syntax that would give a
// script access to the host beyond the browser-automation surface.
package validate

import (
	"fmt"
	"regexp"
)

// rule pairs a pattern with the message reported on a match.
type rule struct {
	pattern *regexp.Regexp
	message string
}

// defaultRules cover the module imports and globals a browser-automation
// script has no business touching.
var defaultRules = []rule{
	{regexp.MustCompile(`require\s*\(\s*['"](child_process|fs|net|os|http|https|dns|cluster|worker_threads|vm)['"]`), "import of restricted module %q"},
	{regexp.MustCompile(`import\s+.*\s+from\s+['"](child_process|fs|net|os|http|https|dns|cluster|worker_threads|vm)['"]`), "import of restricted module %q"},
	{regexp.MustCompile(`\beval\s*\(`), "use of eval"},
	{regexp.MustCompile(`new\s+Function\s*\(`), "dynamic function construction"},
	{regexp.MustCompile(`process\s*\.\s*(exit|kill|env)\b`), "access to process.%s"},
	{regexp.MustCompile(`__proto__`), "prototype manipulation"},
}

// Validator checks script sources against a deny-list of dangerous patterns.
type Validator struct {
	rules []rule
}

// New creates a validator with the default rule set.
func New() *Validator {
	return &Validator{rules: defaultRules}
}

// Validate returns an error describing the first violation found, or nil when
// the source is acceptable.
func (v *Validator) Validate(source string) error {
	for _, r := range v.rules {
		m := r.pattern.FindStringSubmatch(source)
		if m == nil {
			continue
		}
		if len(m) > 1 {
			return fmt.Errorf(r.message, m[1])
		}
		return fmt.Errorf("%s", r.message)
	}
	return nil
}
