package manifest

import (
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Validate checks the integrity of the manifest. All problems are reported
// together as an aggregate wrapped in ErrInvalid.
func (m *Manifest) Validate() error {
	var allErrs field.ErrorList

	if m.Name == "" {
		allErrs = append(allErrs, field.Required(field.NewPath("name"), "manifest name is required"))
	}

	stepsPath := field.NewPath("steps")
	for i := range m.Steps {
		allErrs = append(allErrs, m.Steps[i].validate(stepsPath.Index(i))...)
	}

	expectPath := field.NewPath("expect")
	seen := sets.New[string]()
	for i, key := range m.Expect {
		switch {
		case key == "":
			allErrs = append(allErrs, field.Required(expectPath.Index(i), "expected key must not be empty"))
		case seen.Has(key):
			allErrs = append(allErrs, field.Duplicate(expectPath.Index(i), key))
		}
		seen.Insert(key)
	}

	if len(allErrs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrInvalid, m.Name, allErrs.ToAggregate())
}

// validate checks that the step carries exactly the fields its op uses
func (s *Step) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList

	required := func(name, value string) {
		if value == "" {
			errs = append(errs, field.Required(path.Child(name), fmt.Sprintf("required by %s", s.Op)))
		}
	}
	forbidden := func(name string, set bool) {
		if set {
			errs = append(errs, field.Forbidden(path.Child(name), fmt.Sprintf("not used by %s", s.Op)))
		}
	}

	hasTarget := s.Target != ""
	hasDependency := s.Dependency != ""
	hasDependsOn := len(s.DependsOn) > 0
	hasComponent := s.Component != nil

	switch s.Op {
	case OpAdd:
		required("key", s.Key)
		forbidden("target", hasTarget)
		forbidden("dependency", hasDependency)
		for i, dep := range s.DependsOn {
			if dep == "" {
				errs = append(errs, field.Required(path.Child("dependsOn").Index(i), "dependency key must not be empty"))
			}
		}
	case OpAddAfter, OpAddBefore:
		required("key", s.Key)
		required("target", s.Target)
		forbidden("dependency", hasDependency)
		forbidden("dependsOn", hasDependsOn)
	case OpAddFirst, OpAddTail:
		required("key", s.Key)
		forbidden("target", hasTarget)
		forbidden("dependency", hasDependency)
		forbidden("dependsOn", hasDependsOn)
	case OpAddDependency, OpRemoveDependency:
		required("key", s.Key)
		required("dependency", s.Dependency)
		forbidden("target", hasTarget)
		forbidden("dependsOn", hasDependsOn)
		forbidden("component", hasComponent)
	case OpRemove:
		required("key", s.Key)
		forbidden("target", hasTarget)
		forbidden("dependency", hasDependency)
		forbidden("dependsOn", hasDependsOn)
		forbidden("component", hasComponent)
	case OpClear:
		forbidden("key", s.Key != "")
		forbidden("target", hasTarget)
		forbidden("dependency", hasDependency)
		forbidden("dependsOn", hasDependsOn)
		forbidden("component", hasComponent)
	case "":
		errs = append(errs, field.Required(path.Child("op"), "operation is required"))
	default:
		valid := make([]string, len(Ops))
		for i, op := range Ops {
			valid[i] = string(op)
		}
		errs = append(errs, field.NotSupported(path.Child("op"), s.Op, valid))
	}

	return errs
}
