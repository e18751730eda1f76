package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"tlcharts/internal/domain"

	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound = errors.New("api descriptor not found")
)

type file struct {
	APIs []domain.APIDescriptor `yaml:"apis"`
}

// Catalog is the static list of api descriptors; read-only after construction
type Catalog struct {
	apis []domain.APIDescriptor
	byID map[string]int
}

func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	return New(f.APIs)
}

func New(apis []domain.APIDescriptor) (*Catalog, error) {
	c := &Catalog{
		apis: make([]domain.APIDescriptor, 0, len(apis)),
		byID: make(map[string]int, len(apis)),
	}

	var errs []error
	for i, a := range apis {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("api #%d: id is required", i))
			continue
		}
		if _, dup := c.byID[a.ID]; dup {
			errs = append(errs, fmt.Errorf("api %s: duplicate id", a.ID))
			continue
		}
		if strings.TrimSpace(a.Title) == "" {
			errs = append(errs, fmt.Errorf("api %s: title is required", a.ID))
		}
		if a.URL == "" && a.QueryID <= 0 {
			errs = append(errs, fmt.Errorf("api %s: url or query_id is required", a.ID))
		}
		if a.Method == "" {
			a.Method = "GET"
		}
		a.Method = strings.ToUpper(a.Method)
		for _, col := range a.Columns {
			switch col.Type {
			case domain.ColumnDate, domain.ColumnNumber, domain.ColumnString:
			default:
				errs = append(errs, fmt.Errorf("api %s: column %s has unknown type %q", a.ID, col.Name, col.Type))
			}
		}

		c.byID[a.ID] = len(c.apis)
		c.apis = append(c.apis, a)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Len() int {
	return len(c.apis)
}

// All returns a copy, callers may reorder it
func (c *Catalog) All() []domain.APIDescriptor {
	out := make([]domain.APIDescriptor, len(c.apis))
	copy(out, c.apis)
	return out
}

func (c *Catalog) Get(id string) (domain.APIDescriptor, error) {
	i, ok := c.byID[id]
	if !ok {
		return domain.APIDescriptor{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.apis[i], nil
}

// Resolve maps ids to descriptors in order, unknown ids are returned as missing
func (c *Catalog) Resolve(ids []string) (found []domain.APIDescriptor, missing []string) {
	found = make([]domain.APIDescriptor, 0, len(ids))
	for _, id := range ids {
		i, ok := c.byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		found = append(found, c.apis[i])
	}
	return found, missing
}

// URLFor returns the results url of a descriptor with the api key attached
func URLFor(d domain.APIDescriptor, baseURL, apiKey string) (string, error) {
	raw := d.URL
	if raw == "" {
		if d.QueryID <= 0 {
			return "", fmt.Errorf("api %s has neither url nor query_id", d.ID)
		}
		raw = fmt.Sprintf("%s/queries/%d/results.json", strings.TrimRight(baseURL, "/"), d.QueryID)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url for api %s: %w", d.ID, err)
	}

	q := u.Query()
	if q.Get("api_key") == "" && apiKey != "" {
		q.Set("api_key", apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
