package eta

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/sos-dispatch/internal/models"
)

// OSRMClient performs ETA lookups against an OSRM HTTP server. This is a
// point-to-point duration query, not navigation.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// EstimateMinutes queries OSRM /route between points and returns the
// driving duration in minutes.
func (o *OSRMClient) EstimateMinutes(from, to models.Coordinate) (float64, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		o.Endpoint, from.Lng, from.Lat, to.Lng, to.Lat)
	resp, err := o.Client.Get(url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var out struct {
		Routes []struct {
			Duration float64 `json:"duration"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return 0, fmt.Errorf("osrm no route: %v", out.Code)
	}
	m := out.Routes[0].Duration / 60
	if m < 1 {
		m = 1
	}
	return m, nil
}
