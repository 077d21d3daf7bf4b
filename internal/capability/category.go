package capability

import (
	"encoding/json"
	"fmt"
)

// Category is one of the fixed tool categories a worker can declare.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryStaticAnalysis
	CategorySecurityScanning
	CategoryDynamicAnalysis
	CategoryFuzzing
	CategoryTestFramework
)

// Categories lists every valid category in declaration order.
var Categories = []Category{
	CategoryStaticAnalysis,
	CategorySecurityScanning,
	CategoryDynamicAnalysis,
	CategoryFuzzing,
	CategoryTestFramework,
}

var categoryNames = map[Category]string{
	CategoryStaticAnalysis:   "static_analysis",
	CategorySecurityScanning: "security_scanning",
	CategoryDynamicAnalysis:  "dynamic_analysis",
	CategoryFuzzing:          "fuzzing",
	CategoryTestFramework:    "test_framework",
}

var categoriesByName = func() map[string]Category {
	m := make(map[string]Category, len(categoryNames))
	for c, name := range categoryNames {
		m[name] = c
	}
	return m
}()

// ParseCategory resolves a category name. Unrecognized names return
// CategoryUnknown and false; callers treat that as "no match".
func ParseCategory(name string) (Category, bool) {
	c, ok := categoriesByName[name]
	if !ok {
		return CategoryUnknown, false
	}
	return c, true
}

// Valid reports whether c is one of the five declared categories.
func (c Category) Valid() bool {
	_, ok := categoryNames[c]
	return ok
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

func (c Category) MarshalJSON() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("capability: cannot encode category %d", int(c))
	}
	return json.Marshal(c.String())
}

// UnmarshalJSON never fails on an unrecognized name: the value decodes to
// CategoryUnknown so queries built from it match nothing.
func (c *Category) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	*c, _ = ParseCategory(name)
	return nil
}
