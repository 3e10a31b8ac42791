package dto

import (
	"encoding/json"

	"github.com/noah-isme/civreg-api/internal/models"
)

// AddressRequest carries an address payload on registration.
type AddressRequest struct {
	AddressCode *string `json:"addressCode,omitempty"`
	Country     *string `json:"country,omitempty"`
	Region      *string `json:"region,omitempty"`
	City        *string `json:"city,omitempty"`
	Street      *string `json:"street,omitempty"`
	Building    *string `json:"building,omitempty"`
	Apartment   *string `json:"apartment,omitempty"`
	PostalCode  *string `json:"postalCode,omitempty"`
	FullAddress *string `json:"fullAddress,omitempty"`
}

// RegisterPersonRequest is the payload for registering a new person.
// DateOfBirth uses the YYYY-MM-DD wire format.
type RegisterPersonRequest struct {
	FirstName         string                   `json:"firstName" validate:"required"`
	LastName          string                   `json:"lastName" validate:"required"`
	MiddleName        *string                  `json:"middleName,omitempty"`
	DateOfBirth       string                   `json:"dateOfBirth" validate:"required"`
	PlaceOfBirth      *string                  `json:"placeOfBirth,omitempty"`
	Gender            models.Gender            `json:"gender" validate:"required"`
	CitizenshipStatus models.CitizenshipStatus `json:"citizenshipStatus,omitempty"`
	Nationality       *string                  `json:"nationality,omitempty"`
	Photo             *string                  `json:"photo,omitempty"`
	Email             *string                  `json:"email,omitempty" validate:"omitempty,email"`
	Phone             *string                  `json:"phone,omitempty"`
	PrimaryAddress    *AddressRequest          `json:"primaryAddress,omitempty"`
	SecondaryAddress  *AddressRequest          `json:"secondaryAddress,omitempty"`
	Metadata          json.RawMessage          `json:"metadata,omitempty"`
}

// SearchPersonsQuery mirrors the supported search criteria.
type SearchPersonsQuery struct {
	FirstName   string
	LastName    string
	DateOfBirth string
	Email       string
	Phone       string
}

// ListPersonsQuery mirrors the supported listing filters.
type ListPersonsQuery struct {
	CitizenshipStatus string
	Gender            string
	City              string
	Page              int
	PageSize          int
}
