package chartspec

import (
	"errors"
	"fmt"
	"strings"

	"tlcharts/internal/domain"
)

type Catalog interface {
	Get(id string) (domain.APIDescriptor, error)
}

// Validate checks that every referenced api and column exists in the catalog
func Validate(spec domain.ChartSpec, cat Catalog) error {
	var errs []error

	if strings.TrimSpace(spec.Title) == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if !spec.ChartType.Valid() {
		errs = append(errs, fmt.Errorf("chart_type %q is not one of %s", spec.ChartType, strings.Join(domain.ChartTypes(), ", ")))
	}
	if len(spec.Series) == 0 {
		errs = append(errs, errors.New("at least one series is required"))
	}
	if spec.ChartType == domain.ChartPie && len(spec.Series) > 1 {
		errs = append(errs, errors.New("pie charts take exactly one series"))
	}
	if c := spec.Metadata.ConfidenceScore; c < 0 || c > 1 {
		errs = append(errs, fmt.Errorf("confidence %.2f is outside [0,1]", c))
	}

	apis := make(map[string]domain.APIDescriptor)
	lookup := func(id string) (domain.APIDescriptor, bool) {
		if a, ok := apis[id]; ok {
			return a, true
		}
		a, err := cat.Get(id)
		if err != nil {
			return domain.APIDescriptor{}, false
		}
		apis[id] = a
		return a, true
	}

	for i, s := range spec.Series {
		a, ok := lookup(s.APIID)
		if !ok {
			errs = append(errs, fmt.Errorf("series #%d: unknown api %q", i, s.APIID))
			continue
		}
		if _, ok := a.Column(s.Key); !ok {
			errs = append(errs, fmt.Errorf("series #%d: api %s has no column %q", i, a.ID, s.Key))
		}
	}

	if spec.XAxis.Key == "" {
		errs = append(errs, errors.New("x_axis key is required"))
	} else if len(spec.Series) > 0 {
		if a, ok := lookup(spec.Series[0].APIID); ok {
			if _, ok := a.Column(spec.XAxis.Key); !ok {
				errs = append(errs, fmt.Errorf("x_axis: api %s has no column %q", a.ID, spec.XAxis.Key))
			}
		}
	}

	return errors.Join(errs...)
}
