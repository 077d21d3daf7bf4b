package capability

// ToolChecker answers whether a tool is currently installed and runnable.
// Implementations must give stable answers for the duration of one query.
type ToolChecker interface {
	Available(tool string) bool
}

// ToolCheckerFunc adapts a plain predicate to ToolChecker.
type ToolCheckerFunc func(tool string) bool

func (f ToolCheckerFunc) Available(tool string) bool { return f(tool) }

// ToolSet is a fixed set of available tool names.
type ToolSet map[string]struct{}

// NewToolSet builds a ToolSet from names.
func NewToolSet(names ...string) ToolSet {
	s := make(ToolSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s ToolSet) Available(tool string) bool {
	_, ok := s[tool]
	return ok
}

// AnyOf reports a tool available when any checker does.
func AnyOf(checkers ...ToolChecker) ToolChecker {
	return ToolCheckerFunc(func(tool string) bool {
		for _, c := range checkers {
			if c != nil && c.Available(tool) {
				return true
			}
		}
		return false
	})
}

// AllOf reports a tool available only when every checker does.
// With no checkers nothing is available.
func AllOf(checkers ...ToolChecker) ToolChecker {
	return ToolCheckerFunc(func(tool string) bool {
		if len(checkers) == 0 {
			return false
		}
		for _, c := range checkers {
			if c == nil || !c.Available(tool) {
				return false
			}
		}
		return true
	})
}
