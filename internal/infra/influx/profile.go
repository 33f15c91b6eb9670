package influx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"essim_battery/internal/domain"
	"essim_battery/internal/infra"
)

const defaultTimeout = 30 * time.Second

// ProfileSource fetches carrier cost profiles. Servers without an entry in
// Credentials use the default username and password.
type ProfileSource struct {
	creds    Credentials
	username string
	password string
	retries  int
	timeout  time.Duration
}

// NewProfileSource creates a profile source. retries < 1 means a single attempt.
func NewProfileSource(creds Credentials, username, password string, retries int) *ProfileSource {
	if retries < 1 {
		retries = 1
	}
	return &ProfileSource{
		creds:    creds,
		username: username,
		password: password,
		retries:  retries,
		timeout:  defaultTimeout,
	}
}

// ProfileAddr is the HTTP address of the server holding src. An https scheme
// or port 443 selects TLS.
func ProfileAddr(src *domain.InfluxSource) string {
	host := src.Host
	ssl := src.Port == 443
	switch {
	case strings.HasPrefix(host, "https://"):
		host = strings.TrimPrefix(host, "https://")
		ssl = true
	case strings.HasPrefix(host, "http://"):
		host = strings.TrimPrefix(host, "http://")
	}
	scheme := "http"
	if ssl {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, strings.TrimSuffix(host, "/"), src.Port)
}

// ProfileQuery builds the InfluxQL statement for src.
func ProfileQuery(src *domain.InfluxSource) string {
	q := fmt.Sprintf(`SELECT "%s" FROM "%s" WHERE time >= '%s' AND time <= '%s'`,
		src.Field, src.Measurement, src.StartDate, src.EndDate)
	if f := strings.TrimSpace(src.Filters); f != "" {
		q += " AND (" + f + ")"
	}
	return q
}

// FetchProfile queries the field of src between its start and end dates and
// returns the values scaled by the multiplier.
func (p *ProfileSource) FetchProfile(ctx context.Context, src *domain.InfluxSource) ([]float64, error) {
	if src.StartDate == "" || src.EndDate == "" {
		return nil, &domain.ConfigError{Field: "startDate", Err: fmt.Errorf("%w: profile %s needs start and end dates", domain.ErrMissingAttribute, src.Measurement)}
	}

	cred, ok := p.creds.Lookup(src.Host, src.Port)
	if !ok {
		cred = Credential{Username: p.username, Password: p.password}
	}

	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     ProfileAddr(src),
		Username: cred.Username,
		Password: cred.Password,
		Timeout:  p.timeout,
	})
	if err != nil {
		return nil, &domain.ConfigError{Field: "host", Err: err}
	}
	defer c.Close()

	query := client.NewQuery(ProfileQuery(src), src.Database, "s")
	slog.Debug("Querying profile", slog.String("database", src.Database), slog.String("query", query.Command))

	var resp *client.Response
	err = infra.Retry(ctx, "influx query", p.retries, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := c.Query(query)
		if err != nil {
			return domain.NewTransportError("query", err)
		}
		if err := r.Error(); err != nil {
			return domain.NewFatalTransportError("query", err)
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	return profileValues(resp, src.Multiplier)
}

func profileValues(resp *client.Response, multiplier float64) ([]float64, error) {
	if multiplier == 0 {
		multiplier = 1
	}
	if len(resp.Results) == 0 || len(resp.Results[0].Series) == 0 {
		return nil, &domain.ConfigError{Field: "measurement", Err: fmt.Errorf("profile query returned no series")}
	}

	rows := resp.Results[0].Series[0].Values
	values := make([]float64, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("profile row %d: expected time and value", i)
		}
		v, err := toFloat(row[1])
		if err != nil {
			return nil, fmt.Errorf("profile row %d: %w", i, err)
		}
		values = append(values, v*multiplier)
	}
	return values, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("non-numeric value %v", v)
	}
}
