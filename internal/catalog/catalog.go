// Package catalog embeds the authored example programs shown by the explorer.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/domain"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/lang"
	"github.com/weihaoqu/pa-bootcamp-web-sub001/internal/trace"
)

//go:embed programs.yaml
var programsYAML []byte

// ErrUnknownProgram is returned by lookups of ids the catalog does not hold.
var ErrUnknownProgram = errors.New("unknown program")

// Category separates numeric examples from security examples.
type Category string

const (
	CategoryAbstract Category = "abstract"
	CategorySecurity Category = "security"
)

// Expectation records what tracing a program must show.
type Expectation struct {
	Steps    int               `yaml:"steps"`
	Widened  bool              `yaml:"widened"`
	Warnings bool              `yaml:"warnings"`
	Findings int               `yaml:"findings"`
	Severity trace.Severity    `yaml:"severity"`
	Final    map[string]string `yaml:"final"`
}

// Program is one authored example.
type Program struct {
	ID       string    `yaml:"id" json:"id"`
	Name     string    `yaml:"name" json:"name"`
	Category Category  `yaml:"-" json:"category"`
	Domain   domain.ID `yaml:"domain" json:"domain"`
	Code     string    `yaml:"code" json:"code"`
	Note     string    `yaml:"note" json:"note"`

	Expect Expectation `yaml:"expect" json:"-"`
}

type document struct {
	Abstract []Program `yaml:"abstract"`
	Security []Program `yaml:"security"`
}

// Catalog is an immutable, ordered set of programs.
type Catalog struct {
	programs []Program
	byID     map[string]int
}

// Parse decodes and checks a catalog document. Every program must parse and name a
// registered domain; security programs always run under Taint.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode program catalog: %w", err)
	}

	c := &Catalog{byID: map[string]int{}}
	var errs []error
	add := func(p Program, cat Category) {
		p.Category = cat
		if cat == CategorySecurity {
			p.Domain = domain.TaintID
		}
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("%s program %q has no id", cat, p.Name))
			return
		case c.has(p.ID):
			errs = append(errs, fmt.Errorf("duplicate program id %q", p.ID))
			return
		}
		if _, err := domain.Lookup(p.Domain); err != nil {
			errs = append(errs, fmt.Errorf("program %q: %w", p.ID, err))
		}
		if _, err := lang.Parse(p.Code); err != nil {
			errs = append(errs, fmt.Errorf("program %q: %w", p.ID, err))
		}
		c.byID[p.ID] = len(c.programs)
		c.programs = append(c.programs, p)
	}
	for _, p := range doc.Abstract {
		add(p, CategoryAbstract)
	}
	for _, p := range doc.Security {
		add(p, CategorySecurity)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid program catalog: %w", err)
	}
	return c, nil
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(programsYAML)
		if err != nil {
			panic(err)
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

func (c *Catalog) has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// All returns every program, numeric examples first.
func (c *Catalog) All() []Program {
	return append([]Program(nil), c.programs...)
}

// ByCategory returns the programs of one category in catalog order.
func (c *Catalog) ByCategory(cat Category) []Program {
	var out []Program
	for _, p := range c.programs {
		if p.Category == cat {
			out = append(out, p)
		}
	}
	return out
}

// Get looks a program up by id.
func (c *Catalog) Get(id string) (Program, error) {
	i, ok := c.byID[id]
	if !ok {
		return Program{}, fmt.Errorf("%w: %q", ErrUnknownProgram, id)
	}
	return c.programs[i], nil
}

// IDs returns the sorted program ids.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.programs))
	for id := range c.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
