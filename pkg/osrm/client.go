package osrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"campusbus/internal/domain"
	"campusbus/internal/geo"
)

// ErrNoRoute is returned when the service answers but has no usable route
var ErrNoRoute = errors.New("no route")

type Client struct {
	baseURL    string
	profile    string
	httpClient *http.Client
}

func New(baseURL, profile string, timeout time.Duration) *Client {
	if profile == "" {
		profile = "driving"
	}
	return &Client{
		baseURL: baseURL,
		profile: profile,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type apiResponse struct {
	Code    string     `json:"code"`
	Message string     `json:"message,omitempty"`
	Routes  []apiRoute `json:"routes"`
}

type apiRoute struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Geometry struct {
		Coordinates [][]float64 `json:"coordinates"`
	} `json:"geometry"`
}

// Route asks the routing service for a driving route from origin to dest.
// Coordinates go on the wire as lon,lat pairs.
func (c *Client) Route(ctx context.Context, origin, dest geo.Point) (*domain.Route, error) {
	reqURL := fmt.Sprintf("%s/route/v1/%s/%s,%s;%s,%s?overview=full&geometries=geojson",
		c.baseURL, c.profile,
		formatCoord(origin.Lon), formatCoord(origin.Lat),
		formatCoord(dest.Lon), formatCoord(dest.Lat),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if apiResp.Code != "Ok" {
		return nil, fmt.Errorf("routing error %s: %s: %w", apiResp.Code, apiResp.Message, ErrNoRoute)
	}
	if len(apiResp.Routes) == 0 {
		return nil, ErrNoRoute
	}

	return toDomain(apiResp.Routes[0]), nil
}

func toDomain(r apiRoute) *domain.Route {
	polyline := make([][2]float64, 0, len(r.Geometry.Coordinates))
	for _, c := range r.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		polyline = append(polyline, [2]float64{c[1], c[0]})
	}

	return &domain.Route{
		Polyline:        polyline,
		DistanceMeters:  r.Distance,
		DurationSeconds: r.Duration,
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
