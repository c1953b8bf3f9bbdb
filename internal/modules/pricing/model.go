// README: Fare policy, quote and breakdown definitions.
package pricing

import (
	"namma/internal/config"
	"namma/internal/types"
)

const (
	SourceBackend = "backend"
	SourceLocal   = "local"
)

// Policy holds the fare surcharges. Values are configuration, not constants.
type Policy struct {
	BaseFare        int64
	DriverFee       int64
	Toll            int64
	TollThresholdKm float64
	Currency        string
}

func DefaultPolicy() Policy {
	return Policy{
		BaseFare:        50,
		DriverFee:       20,
		Toll:            40,
		TollThresholdKm: 10,
		Currency:        "INR",
	}
}

func PolicyFromConfig(cfg config.FareConfig) Policy {
	p := Policy{
		BaseFare:        cfg.BaseFare,
		DriverFee:       cfg.DriverFee,
		Toll:            cfg.Toll,
		TollThresholdKm: cfg.TollThresholdKm,
		Currency:        cfg.Currency,
	}
	if p.Currency == "" {
		p.Currency = DefaultPolicy().Currency
	}
	return p
}

type Breakdown struct {
	Base      int64 `json:"base"`
	Distance  int64 `json:"distance"`
	DriverFee int64 `json:"driverFee"`
	Toll      int64 `json:"toll"`
}

type Quote struct {
	Total      types.Money `json:"total"`
	DistanceKm float64     `json:"distanceKm"`
	// Breakdown is only known for locally computed quotes.
	Breakdown *Breakdown `json:"breakdown,omitempty"`
	Source    string     `json:"source"`
}
