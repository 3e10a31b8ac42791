package models

import "time"

// Gender enumerates registered gender values. Note that the PSN encoding only
// has digit ranges for MALE and FEMALE; persons with other values cannot be
// issued an identifier under the current scheme.
type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)

// CitizenshipStatus enumerates supported residency categories.
type CitizenshipStatus string

const (
	CitizenshipCitizen           CitizenshipStatus = "CITIZEN"
	CitizenshipPermanentResident CitizenshipStatus = "PERMANENT_RESIDENT"
	CitizenshipTemporaryResident CitizenshipStatus = "TEMPORARY_RESIDENT"
	CitizenshipRefugee           CitizenshipStatus = "REFUGEE"
	CitizenshipAsylumSeeker      CitizenshipStatus = "ASYLUM_SEEKER"
)

// Address is an independently owned postal address. Addresses are never
// shared between persons.
type Address struct {
	ID          string  `db:"id" json:"id"`
	AddressCode *string `db:"address_code" json:"addressCode,omitempty"`
	Country     *string `db:"country" json:"country,omitempty"`
	Region      *string `db:"region" json:"region,omitempty"`
	City        *string `db:"city" json:"city,omitempty"`
	Street      *string `db:"street" json:"street,omitempty"`
	Building    *string `db:"building" json:"building,omitempty"`
	Apartment   *string `db:"apartment" json:"apartment,omitempty"`
	PostalCode  *string `db:"postal_code" json:"postalCode,omitempty"`
	FullAddress *string `db:"full_address" json:"fullAddress,omitempty"`
}

// Person is the registry's identity record. Persons are never deleted, only
// deactivated.
type Person struct {
	ID                 string            `db:"id" json:"id"`
	PSN                string            `db:"psn" json:"psn"`
	FirstName          string            `db:"first_name" json:"firstName"`
	LastName           string            `db:"last_name" json:"lastName"`
	MiddleName         *string           `db:"middle_name" json:"middleName,omitempty"`
	DateOfBirth        time.Time         `db:"date_of_birth" json:"dateOfBirth"`
	PlaceOfBirth       *string           `db:"place_of_birth" json:"placeOfBirth,omitempty"`
	Gender             Gender            `db:"gender" json:"gender"`
	CitizenshipStatus  CitizenshipStatus `db:"citizenship_status" json:"citizenshipStatus"`
	Nationality        *string           `db:"nationality" json:"nationality,omitempty"`
	Photo              *string           `db:"photo" json:"photo,omitempty"`
	Email              *string           `db:"email" json:"email,omitempty"`
	Phone              *string           `db:"phone" json:"phone,omitempty"`
	PrimaryAddressID   *string           `db:"primary_address_id" json:"-"`
	SecondaryAddressID *string           `db:"secondary_address_id" json:"-"`
	PrimaryAddress     *Address          `db:"-" json:"primaryAddress,omitempty"`
	SecondaryAddress   *Address          `db:"-" json:"secondaryAddress,omitempty"`
	Active             bool              `db:"active" json:"active"`
	Metadata           []byte            `db:"metadata" json:"metadata,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updatedAt"`
}

// PersonSearch captures free-form search criteria.
type PersonSearch struct {
	FirstName   string
	LastName    string
	DateOfBirth *time.Time
	Email       string
	Phone       string
}

// PersonFilter constrains listing queries.
type PersonFilter struct {
	CitizenshipStatus CitizenshipStatus
	Gender            Gender
	City              string
	Page              int
	PageSize          int
}

// GenderCounts breaks person totals down by gender.
type GenderCounts struct {
	Male   int `json:"male"`
	Female int `json:"female"`
	Other  int `json:"other"`
}

// RegistryStatistics summarises the registered population.
type RegistryStatistics struct {
	TotalPersons        int            `json:"totalPersons"`
	ByGender            GenderCounts   `json:"byGender"`
	ByCitizenshipStatus map[string]int `json:"byCitizenshipStatus"`
	ByCity              map[string]int `json:"byCity"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
