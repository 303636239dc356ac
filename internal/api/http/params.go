package http

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	ferrors "github.com/frostwatch/frostwatch/internal/errors"
	"github.com/frostwatch/frostwatch/internal/validation"
)

// queryParams are the GET /api/esp32/data parameters. A zero limit or hours
// is the same as omitting it: the store applies its defaults.
type queryParams struct {
	Limit    *int   `query:"limit" validate:"omitnil,gte=0"`
	SensorID string `query:"sensorId" validate:"max=128"`
	Hours    *int   `query:"hours" validate:"omitnil,gte=0"`
}

// pruneParams are the POST /api/esp32/prune parameters.
type pruneParams struct {
	Days *int `query:"days" validate:"omitnil,gte=0,lte=3650"`
}

// sensorsParams are the GET /api/esp32/sensors parameters.
type sensorsParams struct {
	Top *int `query:"top" validate:"omitnil,gte=1,lte=1000"`
}

// restoreParams are the POST /api/esp32/archives/restore parameters.
type restoreParams struct {
	Partition string `query:"partition" validate:"required,max=255"`
}

func parseQueryParams(q url.Values) (queryParams, error) {
	var p queryParams
	var err error
	if p.Limit, err = intParam(q, "limit"); err != nil {
		return p, err
	}
	if p.Hours, err = intParam(q, "hours"); err != nil {
		return p, err
	}
	p.SensorID = strings.TrimSpace(q.Get("sensorId"))
	return p, validation.Struct(p)
}

func parsePruneParams(q url.Values) (pruneParams, error) {
	var p pruneParams
	var err error
	if p.Days, err = intParam(q, "days"); err != nil {
		return p, err
	}
	return p, validation.Struct(p)
}

func parseSensorsParams(q url.Values) (sensorsParams, error) {
	var p sensorsParams
	var err error
	if p.Top, err = intParam(q, "top"); err != nil {
		return p, err
	}
	return p, validation.Struct(p)
}

func parseRestoreParams(q url.Values) (restoreParams, error) {
	p := restoreParams{Partition: strings.TrimSpace(q.Get("partition"))}
	return p, validation.Struct(p)
}

// intParam parses an optional integer parameter. Absent or empty gives nil.
func intParam(q url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, ferrors.NewValidationError(ferrors.CodeInvalidParameter,
			fmt.Sprintf("%s must be an integer", name))
	}
	return &n, nil
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
