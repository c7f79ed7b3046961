package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/jd3nn1s/ecusim/telemetry"
	"github.com/pkg/errors"
	"io"
	"net/http"
	"time"
)

const defaultRemoteTimeout = 2 * time.Second

// Remote calls an external model service. The request body is the
// feature set as JSON and the response is {"predicted_fuel": <number>}.
type Remote struct {
	URL    string
	Client *http.Client
}

func NewRemote(url string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &Remote{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

type remoteResponse struct {
	PredictedFuel *float64 `json:"predicted_fuel"`
}

func (r *Remote) Predict(ctx context.Context, f telemetry.Features) (float64, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return 0, errors.Wrap(err, "unable to encode features")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(err, "unable to build prediction request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "prediction request to %s failed", r.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, errors.Errorf("prediction service returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.Wrap(err, "unable to decode prediction")
	}
	if out.PredictedFuel == nil {
		return 0, errors.New("prediction response has no predicted_fuel")
	}
	return checkFinite(*out.PredictedFuel)
}
