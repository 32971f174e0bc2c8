// Package model defines the query and payload types shared by the car
// catalog handlers, service and upstream client.
package model

import "encoding/json"

// Payload is an upstream response body passed through unchanged.
// The car-data schema belongs to the upstream API and is not interpreted.
type Payload = json.RawMessage

// MakesQuery selects a page of vehicle makes.
type MakesQuery struct {
	Page  int
	Limit int
}

// ModelsQuery selects the models of one make.
type ModelsQuery struct {
	Make string
}

// YearsQuery selects the model years of one make and model.
type YearsQuery struct {
	Make  string
	Model string
}
