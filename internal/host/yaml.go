package host

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quillpolicy/quill/internal/types"
)

/*
 * YAML lattice files.
 *
 * The CLI loads the embedding application's classes and instances from a
 * declarative file:
 *
 *   classes:
 *     - name: User
 *     - name: SuperUser
 *       parents: [User]
 *   instances:
 *     - handle: sue
 *       class: SuperUser
 *       fields:
 *         role: admin
 *
 * Field values map onto core terms: strings, integers, floats, booleans,
 * lists of those, and nested maps (dicts).
 */

type latticeFile struct {
	Classes []struct {
		Name    string   `yaml:"name"`
		Parents []string `yaml:"parents"`
	} `yaml:"classes"`
	Instances []struct {
		Handle string         `yaml:"handle"`
		Class  string         `yaml:"class"`
		Fields map[string]any `yaml:"fields"`
	} `yaml:"instances"`
}

// LoadLatticeFile reads a YAML lattice description into a fresh Lattice.
func LoadLatticeFile(path string, cacheSize int) (*Lattice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lattice file: %w", err)
	}
	return ParseLattice(data, cacheSize)
}

// ParseLattice builds a Lattice from YAML bytes.
func ParseLattice(data []byte, cacheSize int) (*Lattice, error) {
	var f latticeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse lattice file: %w", err)
	}

	l := NewLattice(cacheSize)
	declared := make(map[string]bool, len(f.Classes))
	for _, c := range f.Classes {
		if c.Name == "" {
			return nil, fmt.Errorf("lattice class with empty name")
		}
		declared[c.Name] = true
	}
	for _, c := range f.Classes {
		for _, p := range c.Parents {
			if !declared[p] {
				return nil, fmt.Errorf("class %q names undeclared parent %q", c.Name, p)
			}
		}
		l.RegisterClass(c.Name, c.Parents...)
	}

	for _, in := range f.Instances {
		if in.Handle == "" || in.Class == "" {
			return nil, fmt.Errorf("instance must declare handle and class")
		}
		if !declared[in.Class] {
			return nil, fmt.Errorf("instance %q names undeclared class %q", in.Handle, in.Class)
		}
		fields := make(map[string]*types.Term, len(in.Fields))
		for k, v := range in.Fields {
			t, err := valueTerm(v)
			if err != nil {
				return nil, fmt.Errorf("instance %q field %q: %w", in.Handle, k, err)
			}
			fields[k] = t
		}
		l.RegisterInstance(in.Handle, in.Class, fields)
	}
	return l, nil
}

// valueTerm boxes a decoded YAML value as a core term.
func valueTerm(v any) (*types.Term, error) {
	switch x := v.(type) {
	case string:
		return types.NewString(x), nil
	case int:
		return types.NewInt(int64(x)), nil
	case int64:
		return types.NewInt(x), nil
	case float64:
		return types.NewFloat(x), nil
	case bool:
		return types.NewBoolean(x), nil
	case []any:
		items := make([]*types.Term, len(x))
		for i, it := range x {
			t, err := valueTerm(it)
			if err != nil {
				return nil, err
			}
			items[i] = t
		}
		return &types.Term{Kind: types.KindList, Items: items}, nil
	case map[string]any:
		fields := make(map[string]*types.Term, len(x))
		for k, fv := range x {
			t, err := valueTerm(fv)
			if err != nil {
				return nil, err
			}
			fields[k] = t
		}
		return types.NewDict(fields), nil
	case nil:
		return nil, fmt.Errorf("null field values are not supported")
	default:
		return nil, fmt.Errorf("unsupported field value type %T", v)
	}
}
