// Package agent loads the catalog of agents the pipeline can run. An agent
// is data: its input kind, cost, rate class, cache policy and prompt
// stages.
package agent

import (
	_ "embed"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/agent-pipeline/internal/extract"
	"github.com/sells-group/agent-pipeline/internal/normalize"
)

//go:embed agents.yaml
var defaultCatalog []byte

// InputKind is what an agent reads.
type InputKind string

const (
	// InputSite crawls the fixed page catalog of a site.
	InputSite InputKind = "site"
	// InputPage reads exactly the URL given.
	InputPage InputKind = "page"
	// InputParams reads only request parameters.
	InputParams InputKind = "params"
)

// ResultKind selects how the final stage output is normalized.
type ResultKind string

const (
	ResultProfile ResultKind = "profile"
	ResultJSON    ResultKind = "json"
)

// FallbackCost is charged when neither the store nor the catalog prices an
// agent.
const FallbackCost = 1

const maxParamLen = 4000

// Definition describes one agent.
type Definition struct {
	Slug           string            `yaml:"slug"`
	Name           string            `yaml:"name"`
	Description    string            `yaml:"description"`
	Input          InputKind         `yaml:"input"`
	Cost           int               `yaml:"cost"`
	OperationClass string            `yaml:"operation_class"`
	CacheTTL       time.Duration     `yaml:"cache_ttl"`
	MaxPages       int               `yaml:"max_pages"`
	RequiredParams []string          `yaml:"required_params"`
	Result         ResultKind        `yaml:"result"`
	Fields         []normalize.Field `yaml:"fields"`
	Stages         []extract.Stage   `yaml:"stages"`
}

// NeedsURL reports whether the agent fetches pages.
func (d *Definition) NeedsURL() bool {
	return d.Input == InputSite || d.Input == InputPage
}

// Cacheable reports whether results are reused per (user, domain).
func (d *Definition) Cacheable() bool {
	return d.CacheTTL > 0 && d.Result == ResultProfile
}

// ValidateParams checks required parameters are present and every value
// is within the length limit.
func (d *Definition) ValidateParams(params map[string]string) error {
	var missing []string
	for _, name := range d.RequiredParams {
		if strings.TrimSpace(params[name]) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("missing required parameters: %s", strings.Join(missing, ", "))
	}
	for k, v := range params {
		if len(v) > maxParamLen {
			return eris.Errorf("parameter %s exceeds %d characters", k, maxParamLen)
		}
	}
	return nil
}

// Schema returns the JSON shape the final stage must emit.
func (d *Definition) Schema() string {
	if d.Result == ResultProfile {
		return normalize.ProfileSchema
	}
	return normalize.ResultSchema(d.Fields)
}

func (d *Definition) validate() error {
	if d.Slug == "" {
		return eris.New("agent: slug is required")
	}
	switch d.Input {
	case InputSite, InputPage, InputParams:
	default:
		return eris.Errorf("agent %s: unknown input %q", d.Slug, d.Input)
	}
	switch d.Result {
	case "":
		d.Result = ResultJSON
	case ResultProfile, ResultJSON:
	default:
		return eris.Errorf("agent %s: unknown result %q", d.Slug, d.Result)
	}
	if d.Cost < 0 {
		return eris.Errorf("agent %s: negative cost", d.Slug)
	}
	if d.OperationClass == "" {
		return eris.Errorf("agent %s: operation_class is required", d.Slug)
	}
	if d.MaxPages <= 0 {
		d.MaxPages = 5
	}
	if d.Input == InputPage {
		d.MaxPages = 1
	}
	if len(d.Stages) == 0 {
		return eris.Errorf("agent %s: no stages", d.Slug)
	}
	for i := range d.Stages {
		if err := d.Stages[i].Compile(); err != nil {
			return eris.Wrapf(err, "agent %s", d.Slug)
		}
	}
	if last := d.Stages[len(d.Stages)-1]; last.Format != extract.FormatJSON {
		return eris.Errorf("agent %s: final stage %s must emit json", d.Slug, last.Name)
	}
	return nil
}

// Catalog is an immutable set of agent definitions.
type Catalog struct {
	bySlug map[string]*Definition
	order  []string
}

type catalogFile struct {
	Agents []*Definition `yaml:"agents"`
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "agent: decode catalog")
	}
	c := &Catalog{bySlug: make(map[string]*Definition, len(f.Agents))}
	for _, d := range f.Agents {
		if d == nil {
			continue
		}
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.bySlug[d.Slug]; dup {
			return nil, eris.Errorf("agent: duplicate slug %s", d.Slug)
		}
		c.bySlug[d.Slug] = d
		c.order = append(c.order, d.Slug)
	}
	if len(c.order) == 0 {
		return nil, eris.New("agent: catalog is empty")
	}
	sort.Strings(c.order)
	return c, nil
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog at path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "agent: read catalog %s", path)
	}
	return Parse(data)
}

// Get returns the agent with slug.
func (c *Catalog) Get(slug string) (*Definition, bool) {
	d, ok := c.bySlug[slug]
	return d, ok
}

// List returns every agent ordered by slug.
func (c *Catalog) List() []*Definition {
	out := make([]*Definition, 0, len(c.order))
	for _, slug := range c.order {
		out = append(out, c.bySlug[slug])
	}
	return out
}
