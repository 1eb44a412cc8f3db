package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/glimchat/glim/internal/log"
	"github.com/glimchat/glim/internal/plugin"
)

// WeatherID is the plugin identity of the built-in weather plugin.
const WeatherID = "OfficialWeather"

// Weather resolves a place name and reports current conditions, backed by
// the Open-Meteo geocoding and forecast APIs.
type Weather struct {
	geocodeURL  string
	forecastURL string
	client      *http.Client
	logger      log.Logger
}

// NewWeather creates the weather plugin.
func NewWeather(logger log.Logger) *Weather {
	return &Weather{
		geocodeURL:  "https://geocoding-api.open-meteo.com/v1/search",
		forecastURL: "https://api.open-meteo.com/v1/forecast",
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
	}
}

func (w *Weather) ID() string { return WeatherID }

func (w *Weather) Manifest() *plugin.Manifest {
	return &plugin.Manifest{
		SchemaVersion:       "v1",
		NameForModel:        WeatherID,
		NameForHuman:        "Weather",
		DescriptionForModel: "Get the current weather and conditions for a named location.",
		DescriptionForHuman: "Current weather for any place in the world.",
		Document: internalDocument(WeatherID, map[string]plugin.PathItem{
			"/forecast": {Post: &plugin.Operation{
				OperationID: "weatherForecast",
				Summary:     "Get the current weather for a location.",
				RequestBody: &plugin.RequestBody{Content: map[string]plugin.MediaType{
					"application/json": {Schema: &jsonschema.Schema{
						Type: "object",
						Properties: map[string]*jsonschema.Schema{
							"location": stringSchema("City or place name, e.g. Paris."),
						},
						Required: []string{"location"},
					}},
				}},
			}},
		}),
	}
}

func (w *Weather) Handle(ctx context.Context, operationID string, args map[string]any) (any, error) {
	if operationID != "weatherForecast" {
		return nil, fmt.Errorf("unknown operation %q", operationID)
	}
	location := stringArg(args, "location")
	if location == "" {
		return nil, fmt.Errorf("location is required")
	}

	place, err := w.geocode(ctx, location)
	if err != nil {
		return nil, err
	}
	current, err := w.current(ctx, place.Latitude, place.Longitude)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"location":       place.Name,
		"country":        place.Country,
		"latitude":       place.Latitude,
		"longitude":      place.Longitude,
		"temperatureC":   current.Temperature,
		"windSpeedKmh":   current.WindSpeed,
		"conditions":     describeWeatherCode(current.WeatherCode),
		"observationUTC": current.Time,
	}, nil
}

type geoResult struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (w *Weather) geocode(ctx context.Context, name string) (*geoResult, error) {
	u := w.geocodeURL + "?count=1&name=" + url.QueryEscape(name)
	var payload struct {
		Results []geoResult `json:"results"`
	}
	if err := w.getJSON(ctx, u, &payload); err != nil {
		return nil, fmt.Errorf("geocoding %q: %w", name, err)
	}
	if len(payload.Results) == 0 {
		return nil, fmt.Errorf("no location found for %q", name)
	}
	return &payload.Results[0], nil
}

type currentWeather struct {
	Temperature float64 `json:"temperature"`
	WindSpeed   float64 `json:"windspeed"`
	WeatherCode int     `json:"weathercode"`
	Time        string  `json:"time"`
}

func (w *Weather) current(ctx context.Context, lat, lon float64) (*currentWeather, error) {
	u := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&current_weather=true", w.forecastURL, lat, lon)
	var payload struct {
		Current currentWeather `json:"current_weather"`
	}
	if err := w.getJSON(ctx, u, &payload); err != nil {
		return nil, fmt.Errorf("fetching forecast: %w", err)
	}
	return &payload.Current, nil
}

func (w *Weather) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// describeWeatherCode maps WMO weather codes to readable conditions.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "fog"
	case code <= 57:
		return "drizzle"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "rain showers"
	case code <= 86:
		return "snow showers"
	case code <= 99:
		return "thunderstorm"
	default:
		return "unknown"
	}
}
