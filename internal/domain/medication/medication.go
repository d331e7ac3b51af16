// Package medication implements the medication inventory model.
package medication

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Form is the pharmaceutical form of a medication
type Form string

const (
	FormTablet    Form = "tablet"
	FormCapsule   Form = "capsule"
	FormSyrup     Form = "syrup"
	FormDrops     Form = "drops"
	FormInjection Form = "injection"
	FormCream     Form = "cream"
	FormPatch     Form = "patch"
	FormInhaler   Form = "inhaler"
	FormOther     Form = "other"
)

// DefaultPackageSize is used when a medication is registered without one
const DefaultPackageSize = 30

var validForms = map[Form]bool{
	FormTablet: true, FormCapsule: true, FormSyrup: true, FormDrops: true, FormInjection: true,
	FormCream: true, FormPatch: true, FormInhaler: true, FormOther: true,
}

var (
	ErrMissingUser      = errors.New("medication has no owning user")
	ErrMissingName      = errors.New("medication name is required")
	ErrMissingSubstance = errors.New("active substance is required")
	ErrInvalidForm      = errors.New("invalid medication form")
	ErrNegativeQuantity = errors.New("quantity must not be negative")
	ErrNotFound         = errors.New("medication not found")
)

// Medication is a package of medicine registered by a user
type Medication struct {
	ID              string     `json:"id" firestore:"-"`
	UserID          string     `json:"userId" firestore:"userId"`
	Barcode         string     `json:"barcode,omitempty" firestore:"barcode"`
	Name            string     `json:"name" firestore:"name"`
	ActiveSubstance string     `json:"activeSubstance" firestore:"activeSubstance"`
	Dosage          string     `json:"dosage" firestore:"dosage"`
	Form            Form       `json:"form" firestore:"form"`
	PackageSize     int        `json:"packageSize" firestore:"packageSize"`
	CurrentQuantity int        `json:"currentQuantity" firestore:"currentQuantity"`
	Manufacturer    string     `json:"manufacturer,omitempty" firestore:"manufacturer,omitempty"`
	ExpirationDate  *time.Time `json:"expirationDate,omitempty" firestore:"expirationDate,omitempty"`
	AddedAt         time.Time  `json:"addedAt" firestore:"addedAt"`
}

// Validate checks a medication at the write boundary and fills defaults.
// CurrentQuantity above PackageSize is allowed.
func Validate(m *Medication) error {
	if m.UserID == "" {
		return ErrMissingUser
	}
	if strings.TrimSpace(m.Name) == "" {
		return ErrMissingName
	}
	if strings.TrimSpace(m.ActiveSubstance) == "" {
		return ErrMissingSubstance
	}
	if m.Form == "" {
		m.Form = FormTablet
	}
	if !validForms[m.Form] {
		return fmt.Errorf("%w: %s", ErrInvalidForm, m.Form)
	}
	if m.PackageSize <= 0 {
		m.PackageSize = DefaultPackageSize
	}
	if m.CurrentQuantity < 0 {
		return ErrNegativeQuantity
	}
	return nil
}

// Find returns the medication with the given id, or nil
func Find(meds []Medication, id string) *Medication {
	for i := range meds {
		if meds[i].ID == id {
			return &meds[i]
		}
	}
	return nil
}
