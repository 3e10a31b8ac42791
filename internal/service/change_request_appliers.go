package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/civreg-api/internal/models"
	appErrors "github.com/noah-isme/civreg-api/pkg/errors"
)

// buildPersonUpdates turns an approved request's changes into a column-value
// map ready for the persons table. Every whitelisted field is read with its
// expected type; an unparseable value fails the approval rather than writing
// garbage.
func buildPersonUpdates(requestedChanges []byte) (map[string]interface{}, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(requestedChanges, &payload); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "requested changes are not valid JSON")
	}

	updates := make(map[string]interface{}, len(payload))

	if str, ok, err := readString(payload, "firstName"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "firstName must be a string")
	} else if ok {
		updates["first_name"] = *str
	}
	if str, ok, err := readString(payload, "lastName"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lastName must be a string")
	} else if ok {
		updates["last_name"] = *str
	}
	if str, ok, err := readNullableString(payload, "middleName"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "middleName must be a string or null")
	} else if ok {
		updates["middle_name"] = str
	}
	if str, ok, err := readString(payload, "dateOfBirth"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "dateOfBirth must be a string")
	} else if ok {
		ts, err := time.ParseInLocation(birthDateLayout, *str, time.UTC)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "dateOfBirth must be YYYY-MM-DD")
		}
		updates["date_of_birth"] = ts
	}
	if str, ok, err := readNullableString(payload, "placeOfBirth"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "placeOfBirth must be a string or null")
	} else if ok {
		updates["place_of_birth"] = str
	}
	if str, ok, err := readString(payload, "gender"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "gender must be a string")
	} else if ok {
		gender := models.Gender(strings.ToUpper(*str))
		switch gender {
		case models.GenderMale, models.GenderFemale, models.GenderOther:
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported gender %q", *str))
		}
		updates["gender"] = gender
	}
	if str, ok, err := readString(payload, "citizenshipStatus"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "citizenshipStatus must be a string")
	} else if ok {
		status := models.CitizenshipStatus(strings.ToUpper(*str))
		switch status {
		case models.CitizenshipCitizen, models.CitizenshipPermanentResident,
			models.CitizenshipTemporaryResident, models.CitizenshipRefugee,
			models.CitizenshipAsylumSeeker:
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported citizenship status %q", *str))
		}
		updates["citizenship_status"] = status
	}
	if str, ok, err := readNullableString(payload, "nationality"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "nationality must be a string or null")
	} else if ok {
		updates["nationality"] = str
	}
	if str, ok, err := readNullableString(payload, "photo"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "photo must be a string or null")
	} else if ok {
		updates["photo"] = str
	}
	if str, ok, err := readNullableString(payload, "email"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "email must be a string or null")
	} else if ok {
		updates["email"] = str
	}
	if str, ok, err := readNullableString(payload, "phone"); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "phone must be a string or null")
	} else if ok {
		updates["phone"] = str
	}

	if len(updates) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no supported fields in requested changes")
	}
	return updates, nil
}

// readString returns the string value for the first present key.
func readString(payload map[string]json.RawMessage, keys ...string) (*string, bool, error) {
	for _, key := range keys {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, false, err
		}
		return &value, true, nil
	}
	return nil, false, nil
}

// readNullableString accepts either a string or an explicit JSON null, the
// latter clearing the field.
func readNullableString(payload map[string]json.RawMessage, key string) (*string, bool, error) {
	raw, ok := payload[key]
	if !ok {
		return nil, false, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, true, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, err
	}
	return &value, true, nil
}
