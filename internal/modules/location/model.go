// README: Location value resolved from search or device geolocation.
package location

import "namma/internal/types"

// Location is immutable once resolved.
type Location struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l Location) Point() types.Point {
	return types.Point{Lat: l.Latitude, Lng: l.Longitude}
}

// IsZero reports whether no location has been chosen.
func (l Location) IsZero() bool {
	return l.ID == "" && l.Name == "" && l.Latitude == 0 && l.Longitude == 0
}

const currentLocationName = "Current Location"

// fallbackLocations is served when every search source is unavailable.
var fallbackLocations = []Location{
	{ID: "1", Name: "Bangalore Airport", Address: "Kempegowda International Airport, Bangalore", Latitude: 13.1986, Longitude: 77.7066},
	{ID: "2", Name: "MG Road", Address: "Mahatma Gandhi Road, Bangalore", Latitude: 12.9716, Longitude: 77.5946},
	{ID: "3", Name: "Koramangala", Address: "Koramangala, Bangalore", Latitude: 12.9279, Longitude: 77.6271},
	{ID: "4", Name: "Electronic City", Address: "Electronic City, Bangalore", Latitude: 12.8456, Longitude: 77.6603},
}
