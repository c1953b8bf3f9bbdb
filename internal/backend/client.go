// README: HTTP client for the booking backend; classifies failures into the domain error taxonomy.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"namma/internal/domain"
	"namma/internal/modules/booking"
	"namma/internal/modules/location"
	"namma/internal/modules/vehicle"
	"namma/internal/types"
)

// DefaultTimeout is the ceiling for every backend call.
const DefaultTimeout = 10 * time.Second

// TravelerHeader carries the authenticated traveler to the backend.
const TravelerHeader = "X-Traveler-ID"

const maxErrorBody = 4 << 10

type Client struct {
	baseURL string
	http    *http.Client
	log     logrus.FieldLogger
}

func New(baseURL string, timeout time.Duration, log logrus.FieldLogger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.WithField("component", "backend"),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends one JSON request. Transport failures, 5xx and undecodable bodies become
// *domain.NetworkError; 4xx becomes *domain.RemoteError.
func (c *Client) do(ctx context.Context, op, method, path string, travelerID types.ID, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if travelerID != "" {
		req.Header.Set(TravelerHeader, string(travelerID))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	log := c.log.WithFields(logrus.Fields{"method": method, "path": path, "elapsed": time.Since(start).String()})
	if err != nil {
		log.WithError(err).Warn("backend request failed")
		return &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	log = log.WithField("status", resp.StatusCode)

	switch {
	case resp.StatusCode >= 500:
		log.Warn("backend server error")
		return &domain.NetworkError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		msg := readErrorMessage(resp.Body)
		log.WithField("message", msg).Info("backend rejected request")
		return &domain.RemoteError{Op: op, Status: resp.StatusCode, Msg: msg}
	}
	log.Debug("backend request ok")

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}

func (c *Client) SearchLocations(ctx context.Context, query string) ([]location.Location, error) {
	var out []location.Location
	path := "/api/locations/search?query=" + url.QueryEscape(query)
	if err := c.do(ctx, "search locations", http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListVehicles(ctx context.Context) ([]vehicle.Vehicle, error) {
	var out []vehicle.Vehicle
	if err := c.do(ctx, "list vehicles", http.MethodGet, "/api/vehicles", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FareQuote(ctx context.Context, distanceKm float64, vehicleType string) (float64, error) {
	q := url.Values{}
	q.Set("distance", strconv.FormatFloat(distanceKm, 'f', -1, 64))
	q.Set("vehicleType", vehicleType)
	var out struct {
		Fare *float64 `json:"fare"`
	}
	if err := c.do(ctx, "fare quote", http.MethodGet, "/api/fare?"+q.Encode(), "", nil, &out); err != nil {
		return 0, err
	}
	if out.Fare == nil {
		return 0, &domain.NetworkError{Op: "fare quote", Err: fmt.Errorf("response has no fare")}
	}
	return *out.Fare, nil
}

func (c *Client) CreateBooking(ctx context.Context, travelerID types.ID, req booking.CreateRequest) (booking.Booking, error) {
	var out booking.Booking
	if err := c.do(ctx, "create booking", http.MethodPost, "/api/bookings", travelerID, req, &out); err != nil {
		return booking.Booking{}, err
	}
	if out.ID == "" {
		return booking.Booking{}, &domain.NetworkError{Op: "create booking", Err: fmt.Errorf("response has no booking id")}
	}
	return out, nil
}

func (c *Client) UpdateInstructions(ctx context.Context, travelerID, bookingID types.ID, text string) error {
	body := map[string]string{"instructions": text}
	return c.do(ctx, "update instructions", http.MethodPut, "/api/bookings/"+url.PathEscape(string(bookingID))+"/instructions", travelerID, body, nil)
}

func (c *Client) SubmitFeedback(ctx context.Context, travelerID, bookingID types.ID, rating int, feedback string) error {
	body := struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}{rating, feedback}
	return c.do(ctx, "submit feedback", http.MethodPost, "/api/bookings/"+url.PathEscape(string(bookingID))+"/feedback", travelerID, body, nil)
}

func (c *Client) ConfirmedBookings(ctx context.Context, travelerID types.ID) ([]booking.Booking, error) {
	var out []booking.Booking
	if err := c.do(ctx, "fetch confirmed bookings", http.MethodGet, "/api/bookings/confirmed", travelerID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) BookingHistory(ctx context.Context, travelerID types.ID) ([]booking.Booking, error) {
	var out []booking.Booking
	if err := c.do(ctx, "fetch booking history", http.MethodGet, "/api/bookings/history", travelerID, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Discover asks discoveryURL for the backend base URL ({"base_url": "..."}) and
// returns fallback when the lookup fails or yields nothing.
func Discover(ctx context.Context, discoveryURL, fallback string, timeout time.Duration, log logrus.FieldLogger) string {
	if discoveryURL == "" {
		return fallback
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := New(discoveryURL, timeout, log)
	var out struct {
		BaseURL string `json:"base_url"`
	}
	if err := c.do(ctx, "discover backend", http.MethodGet, "", "", nil, &out); err != nil {
		log.WithError(err).Warn("backend discovery failed, using configured base url")
		return fallback
	}
	if _, err := url.ParseRequestURI(out.BaseURL); err != nil || out.BaseURL == "" {
		log.WithField("base_url", out.BaseURL).Warn("backend discovery returned unusable url, using configured base url")
		return fallback
	}
	log.WithField("base_url", out.BaseURL).Info("backend discovered")
	return out.BaseURL
}
