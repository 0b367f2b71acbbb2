package dto

import (
	"driver-cost-service/internal/domain"
	"math"
	"time"
)

type StopResponse struct {
	DriverID   string    `json:"driver_id"`
	Date       string    `json:"date"`
	Timestamp  time.Time `json:"timestamp"`
	StoreID    string    `json:"store_id,omitempty"`
	StoreName  string    `json:"store_name,omitempty"`
	Address    string    `json:"address,omitempty"`
	BranchName string    `json:"branch_name,omitempty"`
	Lat        *float64  `json:"lat"`
	Lng        *float64  `json:"lng"`
}

type ListStopsResponse struct {
	Stops []StopResponse `json:"stops"`
}

// FromStop renders a stop; non-finite coordinates become null.
func FromStop(s domain.Stop) StopResponse {
	return StopResponse{
		DriverID:   s.DriverID,
		Date:       s.Day(),
		Timestamp:  s.Timestamp,
		StoreID:    s.StoreID,
		StoreName:  s.StoreName,
		Address:    s.Address,
		BranchName: s.BranchName,
		Lat:        finite(s.Location.Lat),
		Lng:        finite(s.Location.Lon),
	}
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
