package criteria

import (
	"github.com/aidant64/atlas/service/dao"
)

// Fields resolves a named field of an entity to its string value.
type Fields func(name string) (string, bool)

// Matches reports whether every parameter is satisfied by fields. A parameter
// value may be a single string or a list of accepted strings; parameters naming
// unknown fields are ignored.
func Matches(fields Fields, parameters []*dao.Parameter) bool {
	for _, parameter := range parameters {
		if parameter == nil {
			continue
		}
		actual, ok := fields(parameter.Name)
		if !ok {
			continue
		}
		switch expected := parameter.Value.(type) {
		case string:
			if actual != expected {
				return false
			}
		case []string:
			found := false
			for _, candidate := range expected {
				if actual == candidate {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}
