package distance

import (
	"bytes"
	"context"
	"driver-cost-service/internal/domain"
	"driver-cost-service/internal/ports"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ORSRouteProvider implements RouteProvider using the OpenRouteService
// directions endpoint.
//
// It performs a single request per call; pacing, retries and caching are
// owned by the segment resolver. The provider is safe for concurrent use.
type ORSRouteProvider struct {
	session *http.Client
	apiKey  string
	baseURL string
	profile string
}

func NewORSRouteProvider(apiKey, baseURL, profile string, timeout time.Duration) (*ORSRouteProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("ORS api key is empty: %w", domain.ErrInvalidConfig)
	}
	if baseURL == "" {
		baseURL = "https://api.openrouteservice.org"
	}
	if profile == "" {
		profile = "driving-car"
	}

	provider := &ORSRouteProvider{
		session: &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: profile,
	}

	return provider, nil
}

type directionsRequest struct {
	Coordinates  [][]float64 `json:"coordinates"`
	Units        string      `json:"units"`
	Instructions bool        `json:"instructions"`
	ID           string      `json:"id,omitempty"`
}

type directionsResponse struct {
	Routes []struct {
		Summary struct {
			Distance *float64 `json:"distance"`
			Duration *float64 `json:"duration"`
		} `json:"summary"`
	} `json:"routes"`
}

// Route fetches the driving distance origin -> destination in meters.
func (o *ORSRouteProvider) Route(ctx context.Context, req ports.RouteRequest) (ports.RouteResponse, error) {
	endpoint := fmt.Sprintf("%s/v2/directions/%s", o.baseURL, o.profile)

	bodyObj := directionsRequest{
		Coordinates:  [][]float64{req.Origin.CoordsToList(), req.Destination.CoordsToList()},
		Units:        "m",
		Instructions: false,
	}
	if req.OriginID != "" || req.DestinationID != "" {
		bodyObj.ID = req.OriginID + "->" + req.DestinationID
	}

	payload, err := json.Marshal(bodyObj)
	if err != nil {
		return ports.RouteResponse{}, &domain.ProviderError{Err: fmt.Errorf("marshal directions request: %w", err)}
	}

	httpReq, err := o.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return ports.RouteResponse{}, &domain.ProviderError{Err: err}
	}

	resp, err := o.do(httpReq)
	if err != nil {
		return ports.RouteResponse{}, err
	}
	defer resp.Body.Close()

	var dr directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return ports.RouteResponse{}, &domain.ProviderError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("decode directions response: %w", err),
		}
	}

	if len(dr.Routes) == 0 {
		return ports.RouteResponse{}, &domain.ProviderError{
			Status: resp.StatusCode,
			Err:    errors.New("directions response has no routes"),
		}
	}

	summary := dr.Routes[0].Summary
	// ORS omits distance for zero-length routes.
	meters := 0.0
	if summary.Distance != nil {
		meters = *summary.Distance
	}

	return ports.RouteResponse{
		DistanceMeters:  meters,
		DurationSeconds: summary.Duration,
	}, nil
}
